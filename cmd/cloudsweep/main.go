// CloudSweep - multi-account AWS idle-resource auditor.
package main

func main() {
	Execute()
}
