// Package device holds everything the service knows about paired devices.
//
//   - Registry: the persistent catalogue of paired devices (SQLite +
//     in-memory cache), queried by account and by driver.
//   - StateStore: the last known value of every capability, with
//     diff-and-notify change detection.
//   - HistoryRepository: the local audit trail of capability transitions.
//
// # Ownership
//
// A Device belongs to exactly one account for its lifetime. Its capability
// set is declared at pairing and is never rewritten by state sync. The
// StateStore is the sole owner of capability values; it is mutated only by
// the refresh chain of the owning account.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	states := device.NewStateStore(capability.Default())
//	states.OnChange(func(c device.Change) {
//	    log.Info("capability changed", "device_id", c.DeviceID, "capability", c.CapabilityID)
//	})
package device
