package deps

import (
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/marks/internal/auth"
	"github.com/MrSnakeDoc/marks/internal/backend"
	"github.com/MrSnakeDoc/marks/internal/dashboard"
	"github.com/MrSnakeDoc/marks/internal/logger"
)

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	TimeNow        func() time.Time         // for testing, defaults to time.Now
	AllowedHosts   []string                 // Host headers allowed to access the server
	AllowedCIDRS   []string                 // IPs allowed to access readyz/infra endpoints
	TrustProxy     bool                     // true if running behind a trusted reverse proxy (e.g., cloudflared)
	Backend        backend.Backend          // bookmarks, change feed and sessions
	Issuer         *auth.Issuer             // session tokens
	PublicEntry    string                   // where clients go after logout
	Reconciliation dashboard.Reconciliation // how views merge feed events with local writes
	RateBurst      int                      // write routes token bucket capacity per client IP
	RateRefill     int                      // tokens per minute
	WSPingInterval time.Duration            // keepalive ping period on dashboard sockets
	WSWriteTimeout time.Duration            // deadline for a single websocket write
	WSMaxInFlight  int                      // store calls one dashboard socket may have outstanding
	Views          *atomic.Int64            // open dashboard views, reported by /infra
}
