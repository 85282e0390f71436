package gin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
	relayhttp "github.com/odla-network/settlement/http"
	"github.com/odla-network/settlement/signers"
)

func (s *server) pay(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		abort(c, settlement.WrapError(settlement.ErrCodeMissingField, err, "failed to read request body"))
		return
	}
	req, err := relayhttp.DecodePayRequest(raw)
	if err != nil {
		abort(c, err)
		return
	}

	signer, err := s.signers.Resolve(c.Request.Context(), signers.Credentials{
		SenderAddress: req.SenderAddress,
		SenderKey:     req.SenderKey,
		SessionID:     req.SessionID,
	})
	if err != nil {
		abort(c, err)
		return
	}

	receipt, err := s.relay.Pay(c.Request.Context(), req.PaymentRequest(), signer)
	if err != nil {
		abort(c, err)
		return
	}

	s.logger.Info("payment relayed",
		zap.String("hash", receipt.Record.Hash),
		zap.String("signer", receipt.Signer.String()),
		zap.String("requestID", c.GetString(requestIDKey)))

	c.JSON(http.StatusOK, relayhttp.PayResponse{
		Success:         true,
		TransactionHash: receipt.Record.Hash,
		Amount:          receipt.Amount,
		Recipient:       receipt.Record.Recipient,
		Memo:            receipt.Record.Memo,
		ExplorerURL:     relayhttp.ExplorerLink(s.explorerURL, receipt.Record.Hash),
	})
}

func (s *server) balance(c *gin.Context) {
	address := c.Param("address")
	units, err := s.relay.Balance(c.Request.Context(), address)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, relayhttp.BalanceResponse{
		Address:         address,
		Balance:         settlement.ToDecimal(units),
		BalanceMicroCCD: units,
	})
}

func (s *server) transaction(c *gin.Context) {
	record, err := s.relay.Transaction(c.Request.Context(), c.Param("hash"))
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, relayhttp.TransactionResponse{
		TransactionHash: record.Hash,
		Status:          record.Status,
		ExplorerURL:     relayhttp.ExplorerLink(s.explorerURL, record.Hash),
	})
}

func (s *server) health(c *gin.Context) {
	health, err := s.relay.Health(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, health)
		return
	}
	c.JSON(http.StatusOK, health)
}

func (s *server) history(c *gin.Context) {
	limit := DefaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			abort(c, settlement.NewError(settlement.ErrCodeMissingField, "limit must be a positive integer",
				map[string]interface{}{"field": "limit"}))
			return
		}
		limit = n
	}

	address := c.Query("address")
	if address != "" {
		if err := settlement.ValidateAddress(address); err != nil {
			abort(c, err)
			return
		}
	}

	records := s.relay.History().Recent(limit, address)
	if records == nil {
		records = []settlement.TransactionRecord{}
	}
	c.JSON(http.StatusOK, relayhttp.HistoryResponse{Transactions: records})
}
