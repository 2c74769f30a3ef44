// Package module defines the contract between modhub and the modules it hosts.
//
// A module embeds *Base and implements Setup:
//
//	type Counter struct {
//		*module.Base
//	}
//
//	func (c *Counter) Setup(ctx context.Context, host module.Host, routes module.Router) error {
//		c.On("increment", eventbus.Listen(func(ev eventbus.Event) {
//			n, _ := c.SafeState()["count"].(float64)
//			c.SetState(context.Background(), map[string]any{"count": n + 1})
//		}))
//		routes.Get("/count", func(w http.ResponseWriter, r *http.Request) {
//			json.NewEncoder(w).Encode(c.SafeState())
//		})
//		return nil
//	}
//
//	func init() {
//		module.RegisterProvider("counter", module.Provider{
//			New: func(cfg map[string]any) (any, error) {
//				return &Counter{Base: module.NewBase("counter", cfg)}, nil
//			},
//		})
//	}
//
// Events emitted on a module's bus are forwarded by the server as
// <module>.<event>. Every committed state change emits stateChanged on the
// module bus and a stateDelta broadcast to clients.
package module
