package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	httptrace "github.com/DataDog/dd-trace-go/contrib/net/http/v2"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/Open-S2/s2tiles/s2tiles"
	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cli struct {
	Convert struct {
		Input       string `arg:"" help:"Input MBTiles archive." type:"existingfile"`
		Output      string `arg:"" help:"Output S2Tiles archive." type:"path"`
		Compression string `default:"gzip" enum:"none,gzip,brotli,zstd" help:"Tile payload codec."`
	} `cmd:"" help:"Convert an MBTiles archive to S2Tiles."`

	Show struct {
		Path   string `arg:""`
		Bucket string `help:"Remote bucket"`
	} `cmd:"" help:"Inspect a local or remote archive."`

	Tile struct {
		Path   string `arg:""`
		Z      uint8  `arg:""`
		X      uint32 `arg:""`
		Y      uint32 `arg:""`
		Face   uint8  `default:"0" help:"Face of the tile, 0-5. Face 0 is web mercator."`
		Bucket string `help:"Remote bucket"`
	} `cmd:"" help:"Fetch one tile from a local or remote archive and output on stdout."`

	Extract struct {
		Input   string `arg:"" help:"Input local or remote archive."`
		Output  string `arg:"" help:"Output archive." type:"path"`
		Bucket  string `help:"Remote bucket of input archive."`
		Region  string `help:"local GeoJSON Polygon or MultiPolygon file for area of interest." type:"existingfile"`
		Bbox    string `help:"bbox area of interest: min_lon,min_lat,max_lon,max_lat" type:"string"`
		Minzoom int8   `default:"-1" help:"Minimum zoom level, inclusive."`
		Maxzoom int8   `default:"-1" help:"Maximum zoom level, inclusive."`
		Threads int    `default:"4" help:"Number of download threads."`
		DryRun  bool   `help:"Calculate tiles to extract, but don't download them."`
	} `cmd:"" help:"Create an archive from a larger archive for a subset of zoom levels or geographic region."`

	Edit struct {
		Input    string `arg:"" help:"Input archive." type:"existingfile"`
		Metadata string `help:"Path to JSON file to replace the archive metadata with." type:"existingfile"`
	} `cmd:"" help:"Edit JSON metadata of an archive in place."`

	Verify struct {
		Input  string `arg:"" help:"Input local or remote archive."`
		Bucket string `help:"Remote bucket"`
	} `cmd:"" help:"Verify the directory structure of an archive."`

	Serve struct {
		Path        string `arg:"" help:"Local path or bucket prefix"`
		Port        int    `default:"8080"`
		MetricsPort int    `default:"0" help:"Port to serve Prometheus metrics on; 0 disables."`
		Cors        string `help:"Comma-separated list of allowed HTTP CORS origins."`
		CacheSize   int    `default:"64" help:"Size of cache in megabytes."`
		Bucket      string `help:"Remote bucket"`
		PublicURL   string `help:"Public base URL of tile endpoint for TileJSON e.g. https://example.com/tiles/"`
		Tracing     bool   `help:"Enable Datadog tracing of tile requests."`
	} `cmd:"" help:"Run an HTTP server for Z/X/Y and FACE/Z/X/Y tiles."`

	Upload struct {
		InputArchive   string `arg:"" help:"The local archive to upload." type:"existingfile"`
		RemoteArchive  string `arg:"" help:"The name for the remote archive."`
		MaxConcurrency int    `default:"2" help:"# of upload threads"`
		Bucket         string `required:"" help:"Bucket to upload to."`
	} `cmd:"" help:"Upload a local archive to remote storage."`

	Version struct {
	} `cmd:"" help:"Show the program version."`
}

func main() {
	if len(os.Args) < 2 {
		os.Args = append(os.Args, "--help")
	}

	logger := log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lshortfile)
	ctx := kong.Parse(&cli)

	switch ctx.Command() {
	case "show <path>":
		err := s2tiles.Show(logger, os.Stdout, cli.Show.Bucket, cli.Show.Path, false, 0, 0, 0, 0)
		if err != nil {
			logger.Fatalf("Failed to show archive, %v", err)
		}
	case "tile <path> <z> <x> <y>":
		err := s2tiles.Show(logger, os.Stdout, cli.Tile.Bucket, cli.Tile.Path, true, cli.Tile.Face, cli.Tile.Z, cli.Tile.X, cli.Tile.Y)
		if err != nil {
			logger.Fatalf("Failed to show tile, %v", err)
		}
	case "serve <path>":
		server, err := s2tiles.NewServer(cli.Serve.Bucket, cli.Serve.Path, logger, cli.Serve.CacheSize, "", cli.Serve.PublicURL)
		if err != nil {
			logger.Fatalf("Failed to create new server, %v", err)
		}
		s2tiles.SetBuildInfo(version, commit, date)
		server.Start()

		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			statusCode, headers, body := server.Get(r.Context(), r.URL.Path)
			for k, v := range headers {
				w.Header().Set(k, v)
			}
			w.WriteHeader(statusCode)
			w.Write(body)
			logger.Printf("served %d %s in %s", statusCode, r.URL.Path, time.Since(start))
		})

		var handler http.Handler = mux
		if cli.Serve.Cors != "" {
			handler = cors.New(cors.Options{AllowedOrigins: strings.Split(cli.Serve.Cors, ",")}).Handler(handler)
		}
		if cli.Serve.Tracing {
			if err := tracer.Start(); err != nil {
				logger.Fatalf("Failed to start tracer, %v", err)
			}
			defer tracer.Stop()
			handler = httptrace.WrapHandler(handler, "s2tiles", "http.request")
		}

		if cli.Serve.MetricsPort > 0 {
			go func() {
				metricsMux := http.NewServeMux()
				metricsMux.Handle("/metrics", promhttp.Handler())
				logger.Printf("Serving metrics on port %d", cli.Serve.MetricsPort)
				logger.Fatal(http.ListenAndServe(":"+strconv.Itoa(cli.Serve.MetricsPort), metricsMux))
			}()
		}

		logger.Printf("Serving %s %s on port %d with Access-Control-Allow-Origin: %s\n", cli.Serve.Bucket, cli.Serve.Path, cli.Serve.Port, cli.Serve.Cors)
		logger.Fatal(http.ListenAndServe(":"+strconv.Itoa(cli.Serve.Port), handler))
	case "extract <input> <output>":
		err := s2tiles.Extract(logger, cli.Extract.Bucket, cli.Extract.Input, cli.Extract.Output, cli.Extract.Bbox, cli.Extract.Region, cli.Extract.Minzoom, cli.Extract.Maxzoom, cli.Extract.Threads, cli.Extract.DryRun)
		if err != nil {
			logger.Fatalf("Failed to extract, %v", err)
		}
	case "convert <input> <output>":
		compression, err := s2tiles.ParseCompression(cli.Convert.Compression)
		if err != nil {
			logger.Fatalf("Failed to convert %s, %v", cli.Convert.Input, err)
		}
		err = s2tiles.Convert(logger, cli.Convert.Input, cli.Convert.Output, compression)
		if err != nil {
			logger.Fatalf("Failed to convert %s, %v", cli.Convert.Input, err)
		}
	case "edit <input>":
		err := s2tiles.Edit(logger, cli.Edit.Input, cli.Edit.Metadata)
		if err != nil {
			logger.Fatalf("Failed to edit archive, %v", err)
		}
	case "upload <input-archive> <remote-archive>":
		err := s2tiles.Upload(logger, cli.Upload.InputArchive, cli.Upload.Bucket, cli.Upload.RemoteArchive, cli.Upload.MaxConcurrency)
		if err != nil {
			logger.Fatalf("Failed to upload file, %v", err)
		}
	case "verify <input>":
		err := s2tiles.Verify(logger, cli.Verify.Bucket, cli.Verify.Input)
		if err != nil {
			logger.Fatalf("Failed to verify archive, %v", err)
		}
	case "version":
		fmt.Printf("s2tiles %s, commit %s, built at %s\n", version, commit, date)
	default:
		panic(ctx.Command())
	}
}
