// SPDX-FileCopyrightText: 2025 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package flow

import (
	"cmp"
	"net/http"
	"net/netip"
	"slices"

	"github.com/gin-gonic/gin"

	"cnetflow/inlet/flow/decoder"
	"cnetflow/inlet/flow/templates"
)

type templateEntry struct {
	Exporter   string            `json:"exporter"`
	TemplateID uint16            `json:"template_id"`
	Fields     []templates.Field `json:"fields"`
}

func dumpTemplates(cache *templates.Cache, exporter netip.Addr) []templateEntry {
	result := []templateEntry{}
	id := decoder.ExporterIDFromAddr(exporter)
	for key, tpl := range cache.Templates() {
		if exporter.IsValid() && key.Exporter != id {
			continue
		}
		result = append(result, templateEntry{
			Exporter:   key.Exporter.String(),
			TemplateID: key.TemplateID,
			Fields:     tpl.Fields,
		})
	}
	slices.SortFunc(result, func(a, b templateEntry) int {
		return cmp.Or(
			cmp.Compare(a.Exporter, b.Exporter),
			cmp.Compare(a.TemplateID, b.TemplateID))
	})
	return result
}

// templatesHTTPHandler dumps the known templates, optionally only
// those of the exporter provided as the "exporter" query parameter.
func (c *Component) templatesHTTPHandler(gc *gin.Context) {
	var exporter netip.Addr
	if q := gc.Query("exporter"); q != "" {
		var err error
		exporter, err = netip.ParseAddr(q)
		if err != nil {
			gc.JSON(http.StatusBadRequest, gin.H{"message": "invalid exporter address"})
			return
		}
	}
	gc.JSON(http.StatusOK, gin.H{
		"v9":    dumpTemplates(c.v9, exporter),
		"ipfix": dumpTemplates(c.ipfix, exporter),
	})
}
