// Package changetransfer is C6. See changetransfer.go for the Transfer
// type and outbound request issuing, handlers.go for the
// responder/receiver logic.
package changetransfer
