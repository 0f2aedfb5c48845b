// Copyright (c) 2024 The ESGF2-US Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package services exposes the catalog engine over REST: federated search,
// file resolution, asynchronous acquisitions, and the performance ledger.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/esgf2-us/esgcat/catalog"
	"github.com/esgf2-us/esgcat/config"
	"github.com/esgf2-us/esgcat/fetch"
	"github.com/esgf2-us/esgcat/journal"
	"github.com/esgf2-us/esgcat/ledger"
)

// Version numbers
var majorVersion = 0
var minorVersion = 1
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// This type implements the CatalogService interface, serving federated
// dataset search and file acquisition for ESGF holdings.
type catalogService struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	conf config.Config
	// performance ledger shared by all acquisitions
	perf *ledger.Ledger
	// bulk transfer side channel (nil when not configured)
	bulk fetch.BulkClient
	// in-flight and completed acquisitions
	acquisitions *acquisitionManager
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root
func (service *catalogService) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type IndicesOutput struct {
	Body []IndexResponse `doc:"A list of information about the configured federation indices"`
}

// handler method for listing the configured federation indices
func (service *catalogService) getIndices(ctx context.Context,
	input *struct{}) (*IndicesOutput, error) {

	slog.Info("Querying federation indices...")
	output := &IndicesOutput{
		Body: make([]IndexResponse, 0),
	}
	for _, name := range service.conf.EnabledIndices() { // already sorted
		index := service.conf.Indices[name]
		output.Body = append(output.Body, IndexResponse{
			Name:     name,
			Provider: index.Provider,
			URL:      index.URL,
		})
	}
	return output, nil
}

type SearchOutput struct {
	Body SearchResponse `doc:"Merged datasets matching the given facet constraints"`
}

// handler method for federated dataset search
func (service *catalogService) search(ctx context.Context,
	input *struct {
		Body        SearchRequest `doc:"Facet constraints and options for a federated search"`
		ContentType string        `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*SearchOutput, error) {

	slog.Info("Searching federation indices for datasets...")
	cat, err := catalog.New(service.conf)
	if err != nil {
		return nil, err
	}
	datasets, err := cat.Search(ctx, input.Body.query())
	if err != nil {
		var noResults *catalog.NoResultsError
		if errors.As(err, &noResults) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, err
	}
	return &SearchOutput{
		Body: SearchResponse{
			Datasets: datasets,
			Warnings: cat.Session().Warnings(),
		},
	}, nil
}

type FilesOutput struct {
	Body FilesResponse `doc:"Deduplicated file records resolved from matching datasets"`
}

// handler method for searching and resolving files in one round trip
func (service *catalogService) resolveFiles(ctx context.Context,
	input *struct {
		Body        SearchRequest `doc:"Facet constraints and options for a federated search"`
		ContentType string        `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*FilesOutput, error) {

	slog.Info("Resolving files for matching datasets...")
	cat, err := catalog.New(service.conf)
	if err != nil {
		return nil, err
	}
	query := input.Body.query()
	datasets, err := cat.Search(ctx, query)
	if err != nil {
		var noResults *catalog.NoResultsError
		if errors.As(err, &noResults) {
			return nil, huma.Error404NotFound(err.Error())
		}
		return nil, err
	}
	files, err := cat.ResolveFiles(ctx, datasets, query)
	if err != nil {
		return nil, err
	}
	return &FilesOutput{
		Body: FilesResponse{
			Files:    files,
			Warnings: cat.Session().Warnings(),
		},
	}, nil
}

type FetchOutput struct {
	Body   FetchResponse `doc:"A UUID for the requested acquisition"`
	Status int
}

// handler method for initiating an asynchronous acquisition
func (service *catalogService) createFetch(ctx context.Context,
	input *struct {
		Body        FetchRequest `doc:"The body of a POST request for a file acquisition"`
		ContentType string       `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*FetchOutput, error) {

	slog.Info("Creating acquisition task...")
	id, err := service.acquisitions.create(service.conf, service.perf,
		service.bulk, input.Body)
	if err != nil {
		return nil, err
	}
	return &FetchOutput{
		Body:   FetchResponse{Id: id},
		Status: http.StatusCreated,
	}, nil
}

type FetchStatusOutput struct {
	Body FetchStatusResponse `doc:"A status message for the acquisition with the given ID"`
}

// handler method for getting the status of an acquisition
func (service *catalogService) getFetchStatus(ctx context.Context,
	input *struct {
		Id uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the requested acquisition"`
	}) (*FetchStatusOutput, error) {

	status, err := service.acquisitions.status(input.Id)
	if err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &FetchStatusOutput{
		Body: status,
	}, nil
}

type FetchDeletionOutput struct {
	Status int
}

// handler method for canceling an acquisition
func (service *catalogService) deleteFetch(ctx context.Context,
	input *struct {
		Id uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the requested acquisition"`
	}) (*FetchDeletionOutput, error) {

	if err := service.acquisitions.cancel(input.Id); err != nil {
		return nil, huma.Error404NotFound(err.Error())
	}
	return &FetchDeletionOutput{
		Status: http.StatusAccepted,
	}, nil
}

type LedgerOutput struct {
	Body LedgerResponse `doc:"Per-host transfer performance observed so far"`
}

// handler method for the performance ledger summary
func (service *catalogService) getLedger(ctx context.Context,
	input *struct{}) (*LedgerOutput, error) {

	hosts, err := service.perf.Summary()
	if err != nil {
		return nil, err
	}
	return &LedgerOutput{
		Body: LedgerResponse{Hosts: hosts},
	}, nil
}

type HistoryOutput struct {
	Body HistoryResponse `doc:"Journaled acquisitions within the requested time period"`
}

// handler method for querying the acquisition journal
func (service *catalogService) getHistory(ctx context.Context,
	input *struct {
		Start time.Time `query:"start" doc:"earliest acquisition start time of interest (default: 24 hours ago)"`
		Stop  time.Time `query:"stop" doc:"latest acquisition start time of interest (default: now)"`
	}) (*HistoryOutput, error) {

	start, stop := input.Start, input.Stop
	if stop.IsZero() {
		stop = time.Now()
	}
	if start.IsZero() {
		start = stop.Add(-24 * time.Hour)
	}
	records, err := journal.Records(start, stop)
	if err != nil {
		return nil, err
	}
	return &HistoryOutput{
		Body: HistoryResponse{Acquisitions: records},
	}, nil
}

// returns the uptime for the service in seconds
func (service *catalogService) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// Constructs a catalog service from the given configuration. Index providers
// must be registered (indices.RegisterProvider) before the first search. A
// nil bulk client disables the Globus side channel.
func NewService(conf config.Config, bulk fetch.BulkClient) (CatalogService, error) {
	if len(conf.EnabledIndices()) == 0 {
		return nil, fmt.Errorf("No federation indices are enabled.")
	}

	perf, err := ledger.Open(conf.Data.LedgerFile,
		time.Duration(conf.Fetch.HalfLife)*24*time.Hour, conf.Fetch.Exploration)
	if err != nil {
		return nil, err
	}

	service := new(catalogService)
	service.Name = conf.Service.Name
	if service.Name == "" {
		service.Name = "esgcat"
	}
	service.Version = version
	service.Port = -1
	service.conf = conf
	service.perf = perf
	service.bulk = bulk
	service.acquisitions = newAcquisitionManager()

	// set up routing
	service.Router = mux.NewRouter()
	AddDocEndpoints(service.Router)
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	huma.Get(api, "/", service.getRoot)

	// API v1
	huma.Get(api, "/api/v1/indices", service.getIndices)
	huma.Post(api, "/api/v1/search", service.search)
	huma.Post(api, "/api/v1/files", service.resolveFiles)
	huma.Post(api, "/api/v1/fetch", service.createFetch)
	huma.Get(api, "/api/v1/fetch/{id}", service.getFetchStatus)
	huma.Delete(api, "/api/v1/fetch/{id}", service.deleteFetch)
	huma.Get(api, "/api/v1/ledger", service.getLedger)
	huma.Get(api, "/api/v1/history", service.getHistory)

	return service, nil
}

// starts the catalog service
func (service *catalogService) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)",
		service.conf.Service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, service.conf.Service.MaxConnections)

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *catalogService) Shutdown(ctx context.Context) error {
	service.acquisitions.stop()
	var err error
	if service.Server != nil {
		err = service.Server.Shutdown(ctx)
	}
	service.perf.Close()
	return err
}

// closes down the service abruptly, freeing all resources
func (service *catalogService) Close() {
	service.acquisitions.stop()
	if service.Server != nil {
		service.Server.Close()
	}
	service.perf.Close()
}
