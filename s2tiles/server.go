package s2tiles

import (
	"container/list"
	"context"
	"errors"
	"io"
	"log"
	"regexp"
	"strconv"
)

type cacheKey struct {
	name   string
	offset uint64 // 0 addresses the header and root region block
	length uint64
}

type request struct {
	key   cacheKey
	etag  string
	value chan cachedValue
}

type cachedValue struct {
	header  Header
	block   []byte
	etag    string
	ok      bool
	refresh bool
}

type response struct {
	key   cacheKey
	value cachedValue
	size  int
	ok    bool
}

// Server answers tile, metadata and TileJSON requests for .s2tiles
// archives in a bucket. Directory blocks are cached by a single goroutine
// that coalesces concurrent fetches of the same block; tile payloads are
// fetched directly and never cached.
type Server struct {
	reqs      chan request
	purges    chan string
	bucket    Bucket
	logger    *log.Logger
	cacheSize int
	cors      string
	publicURL string
	metrics   *metrics
}

// NewServer opens the bucket at bucketURL and returns a server for the
// archives under prefix.
func NewServer(bucketURL string, prefix string, logger *log.Logger, cacheSize int, cors string, publicURL string) (*Server, error) {
	ctx := context.Background()
	bucketURL, _, err := NormalizeBucketKey(bucketURL, prefix, "")
	if err != nil {
		return nil, err
	}
	bucket, err := OpenBucket(ctx, bucketURL, prefix)
	if err != nil {
		return nil, err
	}
	return NewServerWithBucket(bucket, prefix, logger, cacheSize, cors, publicURL)
}

// NewServerWithBucket returns a server over an already opened bucket.
func NewServerWithBucket(bucket Bucket, _ string, logger *log.Logger, cacheSize int, cors string, publicURL string) (*Server, error) {
	return &Server{
		reqs:      make(chan request, 8),
		purges:    make(chan string, 8),
		bucket:    bucket,
		logger:    logger,
		cacheSize: cacheSize,
		cors:      cors,
		publicURL: publicURL,
		metrics:   createMetrics("server", logger),
	}, nil
}

func isCanceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// Start launches the cache loop.
func (server *Server) Start() {
	go func() {
		cache := make(map[cacheKey]*list.Element)
		inflight := make(map[cacheKey][]request)
		resps := make(chan response, 8)
		evictList := list.New()
		totalSize := 0
		ctx := context.Background()
		server.metrics.initCacheStats(server.cacheSize * 1000 * 1000)

		for {
			select {
			case name := <-server.purges:
				for key, element := range cache {
					if key.name == name {
						evictList.Remove(element)
						totalSize -= element.Value.(*response).size
						delete(cache, key)
					}
				}
				server.metrics.reloadFile(name)
				server.metrics.updateCacheStats(totalSize, len(cache))
			case req := <-server.reqs:
				key := req.key
				kind := "leaf"
				if key.offset == 0 {
					kind = "root"
				}
				if val, ok := cache[key]; ok {
					server.metrics.cacheRequest(key.name, kind, "hit")
					evictList.MoveToFront(val)
					req.value <- val.Value.(*response).value
				} else if _, ok := inflight[key]; ok {
					server.metrics.cacheRequest(key.name, kind, "hit")
					inflight[key] = append(inflight[key], req)
				} else {
					server.metrics.cacheRequest(key.name, kind, "miss")
					inflight[key] = []request{req}
					go server.fetchBlock(ctx, req, resps)
				}
			case resp := <-resps:
				key := resp.key
				for _, v := range inflight[key] {
					v.value <- resp.value
				}
				delete(inflight, key)

				if resp.ok {
					totalSize += resp.size
					ent := &resp
					element := evictList.PushFront(ent)
					cache[key] = element

					for totalSize >= server.cacheSize*1000*1000 {
						oldest := evictList.Back()
						if oldest == nil {
							break
						}
						evictList.Remove(oldest)
						kv := oldest.Value.(*response)
						delete(cache, kv.key)
						totalSize -= kv.size
					}
					server.metrics.updateCacheStats(totalSize, len(cache))
				}
			}
		}
	}()
}

// fetchBlock reads one cacheable block from the bucket: the header and
// root region when key.offset is 0, a leaf directory otherwise.
func (server *Server) fetchBlock(ctx context.Context, req request, resps chan response) {
	key := req.key
	isRoot := key.offset == 0

	offset := int64(key.offset)
	length := int64(key.length)
	kind := "leaf"
	if isRoot {
		offset = 0
		length = DataStart
		kind = "root"
	}

	failed := func(status string, err error) {
		resps <- response{key: key, value: cachedValue{}}
		server.logger.Printf("failed to fetch %s %d-%d, %v", key.name, offset, length, err)
	}

	tracker := server.metrics.startBucketRequest(key.name, kind)
	r, etag, statusCode, err := server.bucket.NewRangeReaderEtag(ctx, key.name+".s2tiles", offset, length, req.etag)
	if err != nil {
		tracker.finish(ctx, strconv.Itoa(statusCode))
		var refreshRequired *RefreshRequiredError
		if errors.As(err, &refreshRequired) {
			resps <- response{key: key, value: cachedValue{refresh: true}}
			return
		}
		failed(strconv.Itoa(statusCode), err)
		return
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		tracker.finish(ctx, "error")
		failed("error", err)
		return
	}
	tracker.finish(ctx, strconv.Itoa(statusCode))

	if isRoot {
		header, err := deserializeHeader(b[0:headerPreambleLen])
		if err != nil {
			server.logger.Printf("parsing header of %s failed: %v", key.name, err)
			resps <- response{key: key, value: cachedValue{}}
			return
		}
		value := cachedValue{header: header, block: b, etag: etag, ok: true}
		resps <- response{key: key, value: value, size: len(b), ok: true}
	} else {
		value := cachedValue{block: b, etag: etag, ok: true}
		resps <- response{key: key, value: value, size: len(b), ok: true}
	}
}

func (server *Server) fetchRoot(name string) cachedValue {
	rootReq := request{key: cacheKey{name: name}, value: make(chan cachedValue, 1)}
	server.reqs <- rootReq
	return <-rootReq.value
}

func (server *Server) getHeaderMetadata(name string) (bool, Header, []byte, error) {
	rootValue := server.fetchRoot(name)
	if rootValue.refresh {
		server.purges <- name
		rootValue = server.fetchRoot(name)
	}
	if !rootValue.ok {
		return false, Header{}, nil, nil
	}
	header := rootValue.header
	compressed, err := metadataBytes(rootValue.block[:HeaderRegionLen], header)
	if err != nil {
		return true, header, nil, err
	}
	metadata, err := Decompress(compressed, header.Compression)
	if err != nil {
		return true, header, nil, err
	}
	return true, header, metadata, nil
}

func (server *Server) getTileJSON(httpHeaders map[string]string, name string) (int, map[string]string, []byte) {
	found, header, metadata, err := server.getHeaderMetadata(name)
	if err != nil {
		return 500, httpHeaders, []byte("I/O Error")
	}
	if !found {
		return 404, httpHeaders, []byte("Archive not found")
	}
	if server.publicURL == "" {
		return 501, httpHeaders, []byte("public-url must be set for TileJSON")
	}
	tilejsonBytes, err := CreateTileJSON(header, metadata, server.publicURL+"/"+name)
	if err != nil {
		return 500, httpHeaders, []byte("Error generating tilejson")
	}
	httpHeaders["Content-Type"] = "application/json"
	return 200, httpHeaders, tilejsonBytes
}

func (server *Server) getMetadata(httpHeaders map[string]string, name string) (int, map[string]string, []byte) {
	found, _, metadata, err := server.getHeaderMetadata(name)
	if err != nil {
		return 500, httpHeaders, []byte("I/O Error")
	}
	if !found {
		return 404, httpHeaders, []byte("Archive not found")
	}
	httpHeaders["Content-Type"] = "application/json"
	return 200, httpHeaders, metadata
}

func contentTypeFor(ext string) (string, bool) {
	switch ext {
	case "mvt", "pbf":
		return "application/x-protobuf", true
	case "png":
		return "image/png", true
	case "jpg", "jpeg":
		return "image/jpeg", true
	case "webp":
		return "image/webp", true
	case "avif":
		return "image/avif", true
	case "json":
		return "application/json", true
	}
	return "", false
}

func contentEncodingFor(compression Compression) (string, bool) {
	switch compression {
	case Gzip:
		return "gzip", true
	case Brotli:
		return "br", true
	case Zstd:
		return "zstd", true
	}
	return "", false
}

func (server *Server) getTile(ctx context.Context, httpHeaders map[string]string, name string, face uint8, z uint8, x uint32, y uint32, ext string) (int, map[string]string, []byte) {
	status, headers, body, refresh := server.getTileAttempt(ctx, httpHeaders, name, face, z, x, y, ext)
	if refresh {
		server.purges <- name
		status, headers, body, _ = server.getTileAttempt(ctx, httpHeaders, name, face, z, x, y, ext)
	}
	return status, headers, body
}

func (server *Server) getTileAttempt(ctx context.Context, httpHeaders map[string]string, name string, face uint8, z uint8, x uint32, y uint32, ext string) (int, map[string]string, []byte, bool) {
	rootValue := server.fetchRoot(name)
	if rootValue.refresh {
		return 0, httpHeaders, nil, true
	}
	if !rootValue.ok {
		return 404, httpHeaders, []byte("Archive not found"), false
	}
	header := rootValue.header

	if z > header.Maxzoom {
		return 404, httpHeaders, []byte("Tile not found"), false
	}
	if limit := uint32(1) << z; x >= limit || y >= limit {
		return 404, httpHeaders, []byte("Tile not found"), false
	}

	path := tilePath(z, x, y)
	cursor := uint64(HeaderRegionLen) + uint64(face)*RootDirLen
	block := rootValue.block
	blockOff := uint64(0)

	for depth := 0; ; depth++ {
		cursor += path[depth] * NodeLen
		isTileNode := depth == len(path)-1 ||
			(header.Maxzoom%5 == 0 && depth == len(path)-2 && z == header.Maxzoom && path[depth+1] == 0)
		rel := cursor - blockOff
		if rel+NodeLen > uint64(len(block)) {
			return 500, httpHeaders, []byte("Archive corrupt"), false
		}
		node := unmarshalNode(block[rel:])
		if isTileNode {
			if !node.present() || node.Length == 0 {
				return 204, httpHeaders, nil, false
			}
			tracker := server.metrics.startBucketRequest(name, "tile")
			r, _, statusCode, err := server.bucket.NewRangeReaderEtag(ctx, name+".s2tiles", int64(node.Offset), int64(node.Length), rootValue.etag)
			if err != nil {
				tracker.finish(ctx, strconv.Itoa(statusCode))
				var refreshRequired *RefreshRequiredError
				if errors.As(err, &refreshRequired) {
					return 0, httpHeaders, nil, true
				}
				return 500, httpHeaders, []byte("Network error"), false
			}
			defer r.Close()
			b, err := io.ReadAll(r)
			if err != nil {
				tracker.finish(ctx, "error")
				return 500, httpHeaders, []byte("I/O error"), false
			}
			tracker.finish(ctx, strconv.Itoa(statusCode))
			if headerVal, ok := contentTypeFor(ext); ok {
				httpHeaders["Content-Type"] = headerVal
			}
			if headerVal, ok := contentEncodingFor(header.Compression); ok {
				httpHeaders["Content-Encoding"] = headerVal
			}
			return 200, httpHeaders, b, false
		}
		if node.Offset == 0 {
			return 204, httpHeaders, nil, false
		}
		dirReq := request{key: cacheKey{name: name, offset: node.Offset, length: uint64(node.Length)}, etag: rootValue.etag, value: make(chan cachedValue, 1)}
		server.reqs <- dirReq
		dirValue := <-dirReq.value
		if dirValue.refresh {
			return 0, httpHeaders, nil, true
		}
		if !dirValue.ok {
			return 500, httpHeaders, []byte("I/O Error"), false
		}
		block = dirValue.block
		blockOff = node.Offset
		cursor = node.Offset
	}
}

var faceTilePattern = regexp.MustCompile(`^\/([-A-Za-z0-9_\/!-_\.\*'\(\)']+)\/([0-5])\/(\d+)\/(\d+)\/(\d+)\.([a-z]+)$`)
var tilePattern = regexp.MustCompile(`^\/([-A-Za-z0-9_\/!-_\.\*'\(\)']+)\/(\d+)\/(\d+)\/(\d+)\.([a-z]+)$`)
var metadataPattern = regexp.MustCompile(`^\/([-A-Za-z0-9_\/!-_\.\*'\(\)']+)\/metadata$`)
var tileJSONPattern = regexp.MustCompile(`^\/([-A-Za-z0-9_\/!-_\.\*'\(\)']+)\.json$`)

// parseFaceTilePath matches /name/face/z/x/y.ext with an explicit S2 face.
func parseFaceTilePath(path string) (bool, string, uint8, uint8, uint32, uint32, string) {
	if res := faceTilePattern.FindStringSubmatch(path); res != nil {
		name := res[1]
		face, _ := strconv.ParseUint(res[2], 10, 8)
		z, _ := strconv.ParseUint(res[3], 10, 8)
		x, _ := strconv.ParseUint(res[4], 10, 32)
		y, _ := strconv.ParseUint(res[5], 10, 32)
		return true, name, uint8(face), uint8(z), uint32(x), uint32(y), res[6]
	}
	return false, "", 0, 0, 0, 0, ""
}

// parseTilePath matches /name/z/x/y.ext, the web mercator route on face 0.
func parseTilePath(path string) (bool, string, uint8, uint32, uint32, string) {
	if res := tilePattern.FindStringSubmatch(path); res != nil {
		name := res[1]
		z, _ := strconv.ParseUint(res[2], 10, 8)
		x, _ := strconv.ParseUint(res[3], 10, 32)
		y, _ := strconv.ParseUint(res[4], 10, 32)
		return true, name, uint8(z), uint32(x), uint32(y), res[5]
	}
	return false, "", 0, 0, 0, ""
}

func parseTilejsonPath(path string) (bool, string) {
	if res := tileJSONPattern.FindStringSubmatch(path); res != nil {
		return true, res[1]
	}
	return false, ""
}

func parseMetadataPath(path string) (bool, string) {
	if res := metadataPattern.FindStringSubmatch(path); res != nil {
		return true, res[1]
	}
	return false, ""
}

// Get dispatches one request path and returns status, headers and body.
func (server *Server) Get(ctx context.Context, path string) (int, map[string]string, []byte) {
	httpHeaders := make(map[string]string)
	if len(server.cors) > 0 {
		httpHeaders["Access-Control-Allow-Origin"] = server.cors
	}

	tracker := server.metrics.startRequest()

	// The face route is tried first: its face group only admits 0-5, so
	// a five-part path that parses as both is served as an S2 address.
	if ok, key, face, z, x, y, ext := parseFaceTilePath(path); ok {
		status, headers, body := server.getTile(ctx, httpHeaders, key, face, z, x, y, ext)
		tracker.finish(ctx, key, "facetile", status, len(body), true)
		return status, headers, body
	}
	if ok, key, z, x, y, ext := parseTilePath(path); ok {
		status, headers, body := server.getTile(ctx, httpHeaders, key, 0, z, x, y, ext)
		tracker.finish(ctx, key, "tile", status, len(body), true)
		return status, headers, body
	}
	if ok, key := parseTilejsonPath(path); ok {
		status, headers, body := server.getTileJSON(httpHeaders, key)
		tracker.finish(ctx, key, "tilejson", status, len(body), true)
		return status, headers, body
	}
	if ok, key := parseMetadataPath(path); ok {
		status, headers, body := server.getMetadata(httpHeaders, key)
		tracker.finish(ctx, key, "metadata", status, len(body), true)
		return status, headers, body
	}

	if path == "/" {
		tracker.finish(ctx, "", "", 204, 0, false)
		return 204, httpHeaders, []byte{}
	}

	tracker.finish(ctx, "", "", 404, 0, false)
	return 404, httpHeaders, []byte("Path not found")
}
