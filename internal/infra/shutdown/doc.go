// Package shutdown coordinates process termination for mchttp-server.
//
// A Handler waits for SIGINT/SIGTERM, or for a context to be cancelled when
// a listener fails fatally, then runs the registered hooks in reverse order
// of registration under a shared timeout.
//
// Usage:
//
//	h := shutdown.NewHandler(10 * time.Second)
//	h.OnShutdown(srv.Shutdown)
//	err := h.Wait(ctx)
package shutdown
