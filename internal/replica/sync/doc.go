// Package sync keeps one execution context's replica of a collection in
// step with the remote store and with sibling contexts on the same device.
//
// A SyncContext owns the in-memory snapshot and is wired to three injected
// capabilities: a store.Store shared by the device's contexts, a bus.Bus
// for low-latency hints, and a Remote for the authoritative store.
//
//	ctx, err := sync.New(st, b, client, sync.DefaultConfig("inventory", "/inventory"))
//	if err != nil {
//	    return err
//	}
//	if err := ctx.Start(parent); err != nil {
//	    return err
//	}
//	go ctx.Run(parent)
//	defer ctx.Stop()
//
// Versions come from a Clock and only move forward. Every candidate
// snapshot, whether pulled, broadcast or read from the store, goes through
// the Policy before it is saved. Local mutations are applied and saved
// optimistically, broadcast, and queued on the Queue until the remote
// store confirms them.
package sync
