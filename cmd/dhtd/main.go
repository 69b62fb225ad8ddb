// Command dhtd runs the DHT sensor stack on a Linux host.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
