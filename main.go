package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/fetch"
	"github.com/esgf2-us/esgcat/globus"
	"github.com/esgf2-us/esgcat/indices"
	globusindex "github.com/esgf2-us/esgcat/indices/globus"
	"github.com/esgf2-us/esgcat/indices/solr"
	"github.com/esgf2-us/esgcat/journal"
	"github.com/esgf2-us/esgcat/services"
)

//go:generate mkdir -p services/docs
//go:generate redoc-cli bundle docs/openapi.yaml
//go:generate cp docs/openapi.yaml services/docs/openapi.yaml
//go:generate mv redoc-static.html services/docs/index.html

// The above logic generates openapi_doc.go as part of the docs package, and
// gives it an endpoint prefix of "docs". To enable these endpoints, you must
// use the "docs" build: go build -tags docs

// Prints usage info.
func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s <config_file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "See README.md for details on config files.\n")
	os.Exit(1)
}

// registers the supported index backends
func registerIndexProviders() {
	if err := indices.RegisterProvider("solr", solr.NewIndex); err != nil {
		log.Panicf("Couldn't register the solr index provider: %s\n", err.Error())
	}
	if err := indices.RegisterProvider("globus", globusindex.NewIndex); err != nil {
		log.Panicf("Couldn't register the globus index provider: %s\n", err.Error())
	}
}

func main() {

	// The only argument is the configuration filename.
	if len(os.Args) < 2 {
		usage()
	}
	configFile := os.Args[1]

	// Read the configuration file.
	log.Printf("Reading configuration from '%s'...\n", configFile)
	conf, err := config.FromFile(configFile)
	if err != nil {
		log.Panicf("Couldn't initialize the configuration: %s\n", err.Error())
	}

	registerIndexProviders()

	// Open the acquisition journal in the data directory.
	if err := journal.Init(conf.Service.DataDirectory); err != nil {
		log.Panicf("Couldn't open the acquisition journal: %s\n", err.Error())
	}
	defer journal.Finalize()

	// Attach the Globus bulk side channel when it's configured.
	var bulk fetch.BulkClient
	bulkClient, err := globus.NewClient(conf)
	if err != nil {
		var notConfigured *globus.NotConfiguredError
		if !errors.As(err, &notConfigured) {
			log.Panicf("Couldn't create the Globus transfer client: %s\n", err.Error())
		}
		log.Println("No Globus endpoint configured; bulk transfers disabled")
	} else {
		bulk = bulkClient
	}

	service, err := services.NewService(conf, bulk)
	if err != nil {
		log.Panicf("Couldn't create the service: %s\n", err.Error())
	}

	// Start the service in a goroutine so it doesn't block.
	go func() {
		err = service.Start(conf.Service.Port)
		if err != nil {
			log.Println(err.Error())
		}
	}()

	// Intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals, shutting down
	// the service as gracefully as possible if they are encountered.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	// Block till we receive one of the above signals.
	<-sigChan

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Wait for connections to close until the deadline elapses.
	service.Shutdown(ctx)
	log.Println("Shutting down")
}
