// Package apitest runs a scriptable in-process stand-in for the import
// backend. Tests queue task IDs, script stream events and poll responses per
// task, and seed product and webhook records; the server records what the
// client sent so assertions can inspect it afterwards.
package apitest
