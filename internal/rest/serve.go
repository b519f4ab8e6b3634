// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/spimfuse/internal/config"
	"github.com/mlnoga/spimfuse/internal/dataset"
	"github.com/mlnoga/spimfuse/internal/device"
	"github.com/mlnoga/spimfuse/internal/export"
	"github.com/mlnoga/spimfuse/internal/fusion"
	"github.com/mlnoga/spimfuse/internal/ops"
)

// Starts the REST server on the given address, e.g. ":8080"
func Serve(addr string) error {
	return Router().Run(addr)
}

// Sets up the routes of the REST API
func Router() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.GET("/devices", getDevices)
			v1.POST("/bbox", postBoundingBox)
			v1.POST("/fuse", postFuse)
		}
	}
	return r
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

type deviceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MemoryMB int64  `json:"memoryMB"`
}

func getDevices(c *gin.Context) {
	devs, err := device.Available()
	infos := make([]deviceInfo, len(devs))
	for i, d := range devs {
		infos[i] = deviceInfo{ID: d.ID(), Name: d.Name, MemoryMB: d.MemoryMB}
	}
	res := gin.H{"devices": infos}
	if err != nil {
		res["warning"] = err.Error()
	}
	c.JSON(http.StatusOK, res)
}

// Arguments of a fusion request. Paths are relative to the working directory of the server
type fuseArgs struct {
	Manifest string          `json:"manifest" binding:"required"`
	Out      string          `json:"out"`
	Config   json.RawMessage `json:"config"`
}

// Loads the dataset and the configuration of a request, rejecting unsafe paths
func (a *fuseArgs) load() (*dataset.Dataset, config.Config, error) {
	cfg := config.Default()
	for _, p := range []string{a.Manifest, a.Out} {
		if p != "" && !ops.IsPathAllowed(p) {
			return nil, cfg, fmt.Errorf("path '%s' not allowed", p)
		}
	}
	if len(a.Config) > 0 {
		if err := json.Unmarshal(a.Config, &cfg); err != nil {
			return nil, cfg, fmt.Errorf("parsing config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfg, err
	}
	ds, err := dataset.LoadManifest(a.Manifest)
	return ds, cfg, err
}

func postBoundingBox(c *gin.Context) {
	var args fuseArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ds, cfg, err := args.load()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	box, err := fusion.ResolveBox(ds, cfg, ops.NewContext(io.Discard))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"min":       box.Min,
		"max":       box.Max,
		"dims":      box.Dims(),
		"pixelType": box.PixelType.String(),
	})
}

// Writes through to the response, flushing after every write so the client sees the log live
type flushWriter struct {
	w gin.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}

func postFuse(c *gin.Context) {
	var args fuseArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ds, cfg, err := args.load()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/plain")
	c.Writer.WriteHeader(http.StatusOK)
	logWriter := flushWriter{c.Writer}

	out := args.Out
	if out == "" {
		out = "."
	}
	exp := export.Multi{&export.RawExporter{Dir: out}, &export.LogExporter{Log: logWriter}}
	if err := fusion.Run(c.Request.Context(), ops.NewContext(logWriter), ds, cfg, exp); err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "Done\n")
}
