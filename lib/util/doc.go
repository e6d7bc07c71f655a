// Package util provides small helpers shared by the client, the server and the CLI.
package util
