// Package pigpiod supervises a local pigpio daemon process.
//
// When the bridge runs on the Raspberry Pi itself it can own pigpiod
// instead of relying on a system service. The Manager:
//   - starts pigpiod in the foreground (-g) in its own process group
//   - waits until the daemon answers a version query on its command port
//   - restarts it with exponential backoff when it exits unexpectedly
//   - kills and restarts it when the watchdog probe fails repeatedly
//   - stops the whole process group with SIGTERM, then SIGKILL
//
// Example usage:
//
//	mgr, err := pigpiod.NewManager(pigpiod.Config{
//	    Binary:    "/usr/bin/pigpiod",
//	    Port:      8888,
//	    LocalOnly: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop()
package pigpiod
