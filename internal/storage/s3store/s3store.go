// Package s3store implements internal/storage.Storage against an S3-
// compatible object store. S3 has no real directories: PathCreate and
// PathSync are no-ops, a path counts as present when any key lies under
// it, and Info reports a key ending in "/" as a Path; hard links don't
// exist in a flat key space either, so
// FeatureHardLink is always false. Requests are signed with AWS SigV4
// using only the standard library (crypto/hmac, crypto/sha256,
// net/http) — no S3 SDK appears anywhere in the example corpus, so none
// is imported here; see DESIGN.md for the full justification. Write
// buffers the whole stream and issues a single PutObject, whatever its
// size; there is no multipart upload.
package s3store

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"pig/internal/storage"
	"pig/internal/xerr"
)

const (
	// MultipartThreshold and partSize are not read by Write, which always
	// issues a single PUT.
	MultipartThreshold = 16 * 1024 * 1024
	partSize           = 8 * 1024 * 1024
)

// Store is an S3-compatible backend rooted at Bucket/Base.
type Store struct {
	Endpoint  string // e.g. "https://s3.us-east-1.amazonaws.com"
	Region    string
	Bucket    string
	Base      string
	AccessKey string
	SecretKey string
	Client    *http.Client
}

func New(endpoint, region, bucket, base, accessKey, secretKey string) *Store {
	return &Store{
		Endpoint: strings.TrimRight(endpoint, "/"), Region: region, Bucket: bucket,
		Base: strings.Trim(base, "/"), AccessKey: accessKey, SecretKey: secretKey,
		Client: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (s *Store) key(p string) string {
	return strings.TrimPrefix(path.Join(s.Base, p), "/")
}

func (s *Store) url(key string) string {
	return fmt.Sprintf("%s/%s/%s", s.Endpoint, s.Bucket, key)
}

func (s *Store) sign(req *http.Request, payloadHash string) error {
	now := time.Now().UTC()
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)
	req.Host = req.URL.Host

	var headerNames []string
	for name := range req.Header {
		headerNames = append(headerNames, strings.ToLower(name))
	}
	headerNames = append(headerNames, "host")
	sort.Strings(headerNames)

	var canonHeaders strings.Builder
	for _, name := range headerNames {
		var val string
		if name == "host" {
			val = req.Host
		} else {
			val = req.Header.Get(name)
		}
		canonHeaders.WriteString(name)
		canonHeaders.WriteString(":")
		canonHeaders.WriteString(strings.TrimSpace(val))
		canonHeaders.WriteString("\n")
	}
	signedHeaders := strings.Join(headerNames, ";")

	canonReq := strings.Join([]string{
		req.Method,
		req.URL.EscapedPath(),
		req.URL.RawQuery,
		canonHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")

	scope := fmt.Sprintf("%s/%s/s3/aws4_request", dateStamp, s.Region)
	hashed := sha256.Sum256([]byte(canonReq))
	strToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256", amzDate, scope, hex.EncodeToString(hashed[:]),
	}, "\n")

	kDate := hmacSHA256([]byte("AWS4"+s.SecretKey), dateStamp)
	kRegion := hmacSHA256(kDate, s.Region)
	kService := hmacSHA256(kRegion, "s3")
	kSigning := hmacSHA256(kService, "aws4_request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, strToSign))

	auth := fmt.Sprintf("AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		s.AccessKey, scope, signedHeaders, signature)
	req.Header.Set("Authorization", auth)
	return nil
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func (s *Store) do(method, u string, body []byte, extraHeaders map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(method, u, bytes.NewReader(body))
	if err != nil {
		return nil, xerr.Wrap(xerr.HostConnect, err, "build s3 request")
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	if err := s.sign(req, sha256Hex(body)); err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, xerr.Wrap(xerr.HostConnect, err, "%s %s", method, u)
	}
	return resp, nil
}

func (s *Store) Info(p string, followLink bool) (*storage.FileInfo, error) {
	key := s.key(p)
	resp, err := s.do(http.MethodHead, s.url(key), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		return nil, xerr.New(xerr.HostConnect, "HEAD %s: status %d", key, resp.StatusCode)
	}
	size, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	modTime, _ := time.Parse(http.TimeFormat, resp.Header.Get("Last-Modified"))
	typ := storage.TypeFile
	if strings.HasSuffix(key, "/") {
		typ = storage.TypePath
	}
	return &storage.FileInfo{Type: typ, Size: size, ModTime: modTime, Mode: 0644}, nil
}

type listResult struct {
	XMLName        xml.Name `xml:"ListBucketResult"`
	Contents       []struct {
		Key          string `xml:"Key"`
		Size         int64  `xml:"Size"`
		LastModified string `xml:"LastModified"`
	} `xml:"Contents"`
	CommonPrefixes []struct {
		Prefix string `xml:"Prefix"`
	} `xml:"CommonPrefixes"`
}

func (s *Store) listObjects(prefix string, delimiter string) (*listResult, error) {
	q := url.Values{}
	q.Set("list-type", "2")
	q.Set("prefix", prefix)
	if delimiter != "" {
		q.Set("delimiter", delimiter)
	}
	u := fmt.Sprintf("%s/%s?%s", s.Endpoint, s.Bucket, q.Encode())
	resp, err := s.do(http.MethodGet, u, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, xerr.New(xerr.HostConnect, "list %s: status %d", prefix, resp.StatusCode)
	}
	var out listResult
	if err := xml.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, xerr.Wrap(xerr.Protocol, err, "decode list-objects response")
	}
	return &out, nil
}

func (s *Store) List(p string, expr string) ([]string, error) {
	prefix := s.key(p)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	res, err := s.listObjects(prefix, "/")
	if err != nil {
		return nil, err
	}
	var re *regexp.Regexp
	if expr != "" {
		re, err = regexp.Compile("^" + expr + "$")
		if err != nil {
			return nil, xerr.Wrap(xerr.OptionInvalidValue, err, "compile list expression")
		}
	}
	var names []string
	for _, cp := range res.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(cp.Prefix, prefix), "/")
		if re == nil || re.MatchString(name) {
			names = append(names, name)
		}
	}
	for _, c := range res.Contents {
		name := strings.TrimPrefix(c.Key, prefix)
		if name == "" {
			continue
		}
		if re == nil || re.MatchString(name) {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *Store) ListInfo(p string, recurse bool, order storage.SortOrder, cb storage.ListCallback) error {
	prefix := s.key(p)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	delim := "/"
	if recurse {
		delim = ""
	}
	res, err := s.listObjects(prefix, delim)
	if err != nil {
		return err
	}
	var names []string
	infos := map[string]storage.FileInfo{}
	for _, cp := range res.CommonPrefixes {
		name := strings.TrimSuffix(strings.TrimPrefix(cp.Prefix, prefix), "/")
		names = append(names, name)
		infos[name] = storage.FileInfo{Type: storage.TypePath}
	}
	for _, c := range res.Contents {
		name := strings.TrimPrefix(c.Key, prefix)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		modTime, _ := time.Parse(time.RFC3339, c.LastModified)
		names = append(names, name)
		infos[name] = storage.FileInfo{Type: storage.TypeFile, Size: c.Size, ModTime: modTime, Mode: 0644}
	}
	switch order {
	case storage.SortAsc:
		sort.Strings(names)
	case storage.SortDesc:
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
	}
	for _, name := range names {
		if err := cb(name, infos[name]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Read(p string, ignoreMissing bool, offset, limit int64) (io.ReadCloser, error) {
	key := s.key(p)
	headers := map[string]string{}
	if offset > 0 || limit > 0 {
		if limit > 0 {
			headers["Range"] = fmt.Sprintf("bytes=%d-%d", offset, offset+limit-1)
		} else {
			headers["Range"] = fmt.Sprintf("bytes=%d-", offset)
		}
	}
	resp, err := s.do(http.MethodGet, s.url(key), nil, headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		if ignoreMissing {
			return nil, nil
		}
		return nil, xerr.New(xerr.FileMissing, "%s not found", key)
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, xerr.New(xerr.HostConnect, "GET %s: status %d", key, resp.StatusCode)
	}
	return resp.Body, nil
}

// s3Writer buffers the whole object in memory and sends it as a single PUT
// on Close; Write returns it for every size.
type s3Writer struct {
	s    *Store
	key  string
	buf  bytes.Buffer
}

func (w *s3Writer) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *s3Writer) Close() error {
	resp, err := w.s.do(http.MethodPut, w.s.url(w.key), w.buf.Bytes(), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return xerr.New(xerr.FileWrite, "PUT %s: status %d", w.key, resp.StatusCode)
	}
	return nil
}

func (s *Store) Write(p string, opts storage.WriteOptions) (io.WriteCloser, error) {
	return &s3Writer{s: s, key: s.key(p)}, nil
}

func (s *Store) Copy(src, dst string) error {
	r, err := s.Read(src, false, 0, 0)
	if err != nil {
		return err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return xerr.Wrap(xerr.FileRead, err, "read %s for copy", src)
	}
	w, err := s.Write(dst, storage.WriteOptions{})
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return xerr.Wrap(xerr.FileWrite, err, "write %s for copy", dst)
	}
	return w.Close()
}

func (s *Store) Remove(p string, recurse bool) error {
	if !recurse {
		resp, err := s.do(http.MethodDelete, s.url(s.key(p)), nil, nil)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	}
	names, err := s.List(p, "")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := s.Remove(path.Join(p, name), true); err != nil {
			return err
		}
	}
	resp, err := s.do(http.MethodDelete, s.url(s.key(p)), nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// PathCreate is a no-op: S3 has no real directories, so there is nothing
// to materialize ahead of a later Write.
func (s *Store) PathCreate(p string, mode uint32, noParentCreate bool, errorOnExists bool) error {
	return nil
}

// PathSync is a no-op: there is no local directory entry to fsync.
func (s *Store) PathSync(p string) error { return nil }

func (s *Store) Move(src, dst string) error {
	if err := s.Copy(src, dst); err != nil {
		return err
	}
	return s.Remove(src, false)
}

func (s *Store) Exists(p string) (bool, error) {
	info, err := s.Info(p, false)
	if err != nil {
		return false, err
	}
	return info != nil, nil
}

func (s *Store) PathExists(p string) (bool, error) {
	names, err := s.List(p, "")
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// LinkCreate always fails: S3's flat key space has no symlink concept,
// matching Feature(FeatureLink) == false above.
func (s *Store) LinkCreate(name, destination string) error {
	return xerr.New(xerr.FileWrite, "s3 backend does not support symlinks (%s -> %s)", name, destination)
}

func (s *Store) Feature(f storage.Feature) bool {
	switch f {
	case storage.FeatureHardLink, storage.FeatureLink, storage.FeatureOwner:
		return false
	case storage.FeaturePath, storage.FeatureCompress:
		return true
	default:
		return false
	}
}
