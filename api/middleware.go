package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// DecompressRequests transparently inflates gzip-encoded request bodies.
// Bodies that are not valid gzip are rejected with 400. Reading more than
// limit inflated bytes fails with errBodyTooLarge.
func DecompressRequests(limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !acceptsGzip(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}

			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid gzip body"})
			}

			req.Body = &inflatingBody{
				capped: &cappedReader{r: gr, n: limit},
				gz:     gr,
				raw:    body,
			}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func acceptsGzip(header string) bool {
	for enc := range strings.SplitSeq(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type inflatingBody struct {
	capped *cappedReader
	gz     *gzip.Reader
	raw    io.Closer
}

func (b *inflatingBody) Read(p []byte) (int, error) { return b.capped.Read(p) }

func (b *inflatingBody) Close() error {
	err := b.gz.Close()
	if cerr := b.raw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// cappedReader fails with errBodyTooLarge once more than n bytes are read.
type cappedReader struct {
	r        io.Reader
	n        int64
	exceeded bool
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.exceeded {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > c.n+1 {
		p = p[:c.n+1]
	}
	n, err := c.r.Read(p)
	c.n -= int64(n)
	if c.n < 0 {
		c.exceeded = true
		return n, errBodyTooLarge
	}
	return n, err
}
