// Package satlink bridges a file-transfer application to the File
// Transfer Module over a satellite link bridge connection.
//
// A Session owns the duplex channel to the bridge, frames every payload
// the FTM transmits, runs the receive loop that feeds inbound payloads
// back into the FTM, and routes lifecycle notifications to registered
// callbacks. A completion latch lets the driving program block until the
// transfer ends with a success or failure outcome.
//
// Example:
//
//	cfg := satlink.DefaultConfig(satlink.RoleSender)
//	cfg.FilePath = "image.bin"
//
//	session, err := satlink.NewSession(cfg, service)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	if err := session.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := session.Transfer(ftm.RequestStartTransmission, 0); err != nil {
//	    log.Fatal(err)
//	}
//
//	outcome, err := session.Wait(ctx)
package satlink
