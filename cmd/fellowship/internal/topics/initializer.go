package topics

import (
	"sync"

	"github.com/nfrund/fellowship/internal/realtime"
	"github.com/nfrund/fellowship/internal/topicmgr"
	"github.com/nfrund/fellowship/internal/websocket"
)

var (
	initOnce sync.Once
	initErr  error
)

// Initialize registers the protocol and application catalogs with the
// default topic manager. It is safe to call more than once.
func Initialize() error {
	initOnce.Do(func() {
		all := append(websocket.Topics(), realtime.Topics()...)
		initErr = topicmgr.Default().RegisterAll(all...)
	})
	return initErr
}
