// Command pushgate runs the Pushgate push endpoint.
//
// Pushgate terminates Web Push delivery requests at the edge: it decrypts
// subscription tokens, validates VAPID sender credentials and routes each
// notification to the bridge the subscriber registered with.
//
// Install:
//
//	go install github.com/crensch/pushgate/cmd/pushgate@latest
//
// Usage:
//
//	pushgate run --config ./Pushgatefile
package main
