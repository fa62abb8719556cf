// Package device defines the device status record exchanged by devmon
// servers and clients, its fixed 10-byte wire layout and the result codes of
// a temperature update.
package device
