// busctl is a sample plugin process wired against pluginbus: it registers
// one handler (echo, on the "bus:demo:echo" operation pattern), advertises
// its manifest when run as `busctl manifest`, and otherwise serves
// requests over stdio.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/wislap/neko-plugin-bus"
)

func main() {
	logger := logrus.NewEntry(logrus.StandardLogger())
	pluginId := os.Getenv("BUS_PLUGIN_ID")
	if pluginId == "" {
		pluginId = "busctl"
	}

	var fast pluginbus.DatagramClient
	if endpoint := os.Getenv("BUS_FAST_ENDPOINT"); endpoint != "" {
		fast = pluginbus.NewTCPDatagramClient(endpoint)
	}

	ctx := pluginbus.NewPluginContext(pluginId, os.Getenv("BUS_CONFIG_PATH"), logger, fast, pluginbus.NewStateRegistry())

	operations := []string{"bus:demo:echo"}
	err := pluginbus.RunPlugin("busctl", "0.1.0", "sample bus plugin", operations, ctx, logger, func(w *pluginbus.Worker) {
		w.RegisterHandler("bus:demo:echo", func(_ context.Context, args map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echo": args}, nil
		})
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "busctl: %v\n", err)
		os.Exit(1)
	}
}
