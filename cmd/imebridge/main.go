// imebridge is the command line tool for the input session bridge.
//
// It runs the reference secondary display service, queries a running fcitx5
// daemon and manages the preferences file.
package main

func main() {
	Execute()
}
