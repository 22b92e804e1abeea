// Command facetrack feeds image sequences through a face tracker, edits
// its identity memory and serves trackers over HTTP.
package main

func main() {
	Execute()
}
