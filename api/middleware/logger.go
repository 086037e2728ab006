package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/irsalhamdi/storefront/api/web"
	"github.com/sirupsen/logrus"
	"github.com/zenazn/goji/web/mutil"
)

// Probes hit these every few seconds; they are only logged when they fail.
var quietPaths = map[string]bool{
	"/readiness": true,
	"/liveness":  true,
}

func Logger(log logrus.FieldLogger) web.Middleware {
	m := func(handler web.Handler) web.Handler {
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			log := log.WithFields(logrus.Fields{
				"req_id": ContextRequestID(ctx),
				"method": r.Method,
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
			})

			quiet := quietPaths[r.URL.Path]
			if !quiet {
				log.Info("started")
			}
			start := time.Now()

			lw := mutil.WrapWriter(w)
			err := handler(ctx, lw, r)

			status := lw.Status()
			if status == 0 {
				status = http.StatusOK
			}

			log = log.WithFields(logrus.Fields{
				"status":   status,
				"bytes":    lw.BytesWritten(),
				"duration": time.Since(start).String(),
			})

			switch {
			case status >= http.StatusInternalServerError:
				log.Warn("completed")
			case !quiet:
				log.Info("completed")
			}
			return err
		}
		return h
	}
	return m
}
