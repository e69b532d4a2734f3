// Package aggregate assembles processed units into an extraction result.
package aggregate

import (
    "fmt"
    "sort"
    "strings"

    "golang.org/x/text/unicode/norm"

    "github.com/feichai0017/document-extractor/internal/models"
)

// Aggregate orders units by index, merges their diagnostics and renders the
// document text. Failed units keep their place in Units but contribute no
// text. units is sorted in place.
func Aggregate(kind models.DocumentKind, units []models.Unit, partial bool) *models.ExtractionResult {
    sort.SliceStable(units, func(i, j int) bool { return units[i].Index < units[j].Index })

    result := &models.ExtractionResult{
        DocumentKind: kind,
        Units:        units,
        Partial:      partial,
        Diagnostics:  models.Diagnostics{UnitFailures: []models.UnitFailure{}},
    }
    for _, u := range units {
        result.Diagnostics.Merge(u.Diagnostics)
    }
    result.Text = Render(units)
    return result
}

// Render builds the aggregated text for already ordered units.
func Render(units []models.Unit) string {
    var (
        parts   []string
        headers int
        footers int
    )
    for _, u := range units {
        var sep string
        switch u.Kind {
        case models.UnitPage:
            sep = fmt.Sprintf("--- Page %d ---", u.Index+1)
        case models.UnitSlide:
            sep = fmt.Sprintf("--- Slide %d ---", u.Index+1)
        case models.UnitSheet:
            sep = fmt.Sprintf("--- Sheet %d ---", u.Index+1)
        case models.UnitChapter:
            sep = fmt.Sprintf("--- Chapter %d ---", u.Index+1)
        case models.UnitHeader:
            headers++
            sep = fmt.Sprintf("--- Header %d ---", headers)
        case models.UnitFooter:
            footers++
            sep = fmt.Sprintf("--- Footer %d ---", footers)
        }
        if u.Failed() {
            continue
        }

        body := UnitText(u)
        switch {
        case sep == "" && body == "":
        case sep == "":
            parts = append(parts, body)
        case body == "":
            parts = append(parts, sep)
        default:
            parts = append(parts, sep+"\n"+body)
        }
    }
    return norm.NFC.String(strings.Join(parts, "\n\n"))
}

// UnitText renders the nodes of one unit, one node per line.
func UnitText(u models.Unit) string {
    var lines []string
    for _, n := range u.Nodes {
        lines = appendNode(lines, n)
    }
    return strings.Join(lines, "\n")
}

func appendNode(lines []string, n *models.ContentNode) []string {
    switch n.Kind {
    case models.NodeText, models.NodeImagePlaceholder:
        if t := strings.TrimSpace(n.Text); t != "" {
            lines = append(lines, t)
        }
    case models.NodeTable:
        for _, row := range n.TableRows {
            lines = append(lines, strings.Join(row, " | "))
        }
    case models.NodeGroup:
        if t := strings.TrimSpace(n.Text); t != "" {
            lines = append(lines, t)
        }
        for _, c := range n.Children {
            lines = appendNode(lines, c)
        }
    }
    return lines
}
