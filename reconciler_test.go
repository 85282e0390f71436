package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcilerSettlesPendingRecords(t *testing.T) {
	node := newMockNode()
	sender, recipient := testAddress(1), testAddress(2)
	relay, _ := newTestRelay(node)
	signer := &mockSigner{kind: SignerCustodial, address: sender}

	first, err := relay.Pay(context.Background(), testRequest(sender, recipient, "1", ""), signer)
	require.NoError(t, err)
	second, err := relay.Pay(context.Background(), testRequest(sender, recipient, "2", ""), signer)
	require.NoError(t, err)

	var finalized []TransactionRecord
	reconciler := NewReconciler(relay, 0).OnFinalized(func(_ context.Context, record TransactionRecord) {
		finalized = append(finalized, record)
	})

	assert.Equal(t, 0, reconciler.Reconcile(context.Background()))
	record, _ := relay.History().Get(first.Record.Hash)
	assert.Equal(t, StatusReceived, record.Status)

	node.setStatus(first.Record.Hash, BlockItemStatus{Status: "finalized", Outcome: "success"})
	assert.Equal(t, 1, reconciler.Reconcile(context.Background()))
	require.Len(t, finalized, 1)
	assert.Equal(t, StatusFinalized, finalized[0].Status)

	node.setStatus(second.Record.Hash, BlockItemStatus{Status: "finalized", Outcome: "reject"})
	assert.Equal(t, 1, reconciler.Reconcile(context.Background()))
	assert.Equal(t, 0, reconciler.Reconcile(context.Background()))
	require.Len(t, finalized, 2)
	assert.Equal(t, StatusRejected, finalized[1].Status)
	assert.Empty(t, relay.History().Pending())
}

func TestReconcilerRunStopsWithContext(t *testing.T) {
	relay, _ := newTestRelay(newMockNode())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewReconciler(relay, 0).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
