package gin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/odla-network/settlement"
	relayhttp "github.com/odla-network/settlement/http"
	"github.com/odla-network/settlement/signers"
)

// DefaultPollWait is how long a wallet poll waits for a sign request
const DefaultPollWait = 25 * time.Second

// maxPollWait caps the wait a wallet may ask for
const maxPollWait = time.Minute

// DefaultHistoryLimit is the page size of GET /history
const DefaultHistoryLimit = 50

// Config configures the relay API
type Config struct {
	// Relay settles payments and answers queries
	Relay *settlement.Relay

	// Signers resolves the signer of each payment (optional, custodial only
	// when nil). The wallet endpoints are served when it has a hub.
	Signers *signers.Resolver

	// MCP is mounted at /mcp when set
	MCP http.Handler

	// ExplorerURL is the transaction page format (optional)
	ExplorerURL string

	// PollWait is the default wallet long-poll wait (optional)
	PollWait time.Duration

	// Logger (optional)
	Logger *zap.Logger
}

type server struct {
	relay       *settlement.Relay
	signers     *signers.Resolver
	explorerURL string
	pollWait    time.Duration
	logger      *zap.Logger
}

// NewRouter builds the relay API
func NewRouter(config Config) *gin.Engine {
	s := &server{
		relay:       config.Relay,
		signers:     config.Signers,
		explorerURL: config.ExplorerURL,
		pollWait:    config.PollWait,
		logger:      config.Logger,
	}
	if s.signers == nil {
		s.signers = signers.NewResolver(nil)
	}
	if s.pollWait <= 0 {
		s.pollWait = DefaultPollWait
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), Logger(s.logger))

	r.POST("/pay", s.pay)
	r.GET("/balance/:address", s.balance)
	r.GET("/transaction/:hash", s.transaction)
	r.GET("/health", s.health)
	r.GET("/history", s.history)

	if s.signers.Hub() != nil {
		wallet := r.Group("/wallet/sessions")
		wallet.POST("", s.openSession)
		wallet.DELETE("/:id", s.closeSession)
		wallet.GET("/:id/requests", s.pollRequests)
		wallet.POST("/:id/requests/:rid", s.resolveRequest)
		wallet.POST("/:id/events", s.emitEvent)
	}

	if config.MCP != nil {
		r.Any("/mcp", gin.WrapH(config.MCP))
	}
	return r
}

// abort answers with the status and body of err
func abort(c *gin.Context, err error) {
	status, body := relayhttp.NewErrorResponse(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
