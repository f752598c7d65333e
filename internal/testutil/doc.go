// Package testutil provides fakes shared by the coordination packages'
// tests: a recording sender and a manually driven scheduler.
package testutil
