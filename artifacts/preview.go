/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package artifacts

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
)

// previewFormats maps structure suffixes to the viewer's format names
var previewFormats = map[string]string{
	".xyz":    "xyz",
	".extxyz": "xyz",
	".cif":    "cif",
	".vasp":   "vasp",
	".poscar": "vasp",
}

// PreviewFormat returns the viewer format for a structure file, if it has one
func PreviewFormat(path string) (string, bool) {
	f, ok := previewFormats[Suffix(path)]
	return f, ok
}

const viewerCDN = "https://3Dmol.org/build/3Dmol-min.js"

var previewTemplate = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="{{.ScriptURL}}"></script>
<style>
  html, body { margin: 0; height: 100%; font-family: sans-serif; }
  #viewer { position: absolute; top: 2.5em; bottom: 0; left: 0; right: 0; }
  header { padding: 0.5em 1em; background: #f4f4f4; font-size: 0.9em; }
</style>
</head>
<body>
<header>{{.Title}} &middot; <a href="{{.DataURL}}">download</a></header>
<div id="viewer"></div>
<script>
(function () {
  var dataURL = {{.DataURL}};
  var format = {{.Format}};
  var viewer = $3Dmol.createViewer(document.getElementById("viewer"), { backgroundColor: "white" });
  fetch(dataURL)
    .then(function (resp) {
      if (!resp.ok) { throw new Error("HTTP " + resp.status); }
      return resp.text();
    })
    .then(function (data) {
      viewer.addModel(data, format);
      viewer.setStyle({}, { sphere: { scale: 0.3 }, stick: { radius: 0.15 } });
      if (format !== "xyz") { viewer.addUnitCell(); }
      viewer.zoomTo();
      viewer.render();
    })
    .catch(function (err) {
      document.getElementById("viewer").textContent = "Failed to load structure: " + err.message;
    });
})();
</script>
</body>
</html>
`))

type previewData struct {
	Title     string
	ScriptURL string
	DataURL   string
	Format    string
}

// writePreview renders the viewer for record into dir. The page fetches the
// structure from relURL, so it works no matter which host serves it.
func writePreview(dir string, record Record, relURL string) (string, error) {
	format, ok := PreviewFormat(record.Path)
	if !ok {
		return "", fmt.Errorf("no preview format for %s", record.Filename())
	}

	var buf bytes.Buffer
	err := previewTemplate.Execute(&buf, previewData{
		Title:     record.Filename(),
		ScriptURL: viewerCDN,
		DataURL:   relURL,
		Format:    format,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render preview: %w", err)
	}

	stem := strings.TrimSuffix(record.Filename(), filepath.Ext(record.Filename()))
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_preview.html", stem, record.ID))
	if err := global.AtomicWrite(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("failed to write preview: %w", err)
	}
	return path, nil
}
