/*
Package pushgate documents the Pushgate module.

This module is CLI-first and ships the pushgate command:

	go install github.com/crensch/pushgate/cmd/pushgate@latest

Most implementation packages in this repository are internal and are not a
stable public Go API.
*/
package pushgate
