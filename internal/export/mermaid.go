package export

import (
	"fmt"
	"strings"

	"github.com/dusk-indust/logwire/internal/reconcile"
)

// GenerateMermaid produces a Mermaid graph LR diagram of the live routing.
// Sinks are grouped by origin; bindings become solid arrows and runtime
// attachments dashed ones.
func GenerateMermaid(s State) string {
	// Build node → ID mapping for Mermaid (alphanumeric only).
	nodeIDs := make(map[string]string)
	nextID := 0
	getID := func(key string) string {
		if id, ok := nodeIDs[key]; ok {
			return id
		}
		id := fmt.Sprintf("N%d", nextID)
		nextID++
		nodeIDs[key] = id
		return id
	}

	var sb strings.Builder
	sb.WriteString("graph LR\n")

	origin := make(map[string]reconcile.Origin)
	for _, o := range reconcile.Origins {
		var sinks []reconcile.SinkInfo
		for _, info := range Sinks(s) {
			if info.Origin == o {
				sinks = append(sinks, info)
			}
		}
		if len(sinks) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "  subgraph %s[\"%s sinks\"]\n", getID("origin/"+string(o)), o)
		for _, info := range sinks {
			key := sinkKey(o, info.Name)
			if o != reconcile.OriginDynamic {
				origin[info.Name] = o
			}
			fmt.Fprintf(&sb, "    %s[(\"%s\")]\n", getID(key), label(info))
		}
		sb.WriteString("  end\n")
	}

	cats := s.Categories()
	for _, c := range cats {
		fmt.Fprintf(&sb, "  %s[\"%s %s\"]\n", getID("category/"+c.Name), escape(c.Name), c.Level)
	}
	for _, c := range cats {
		from := getID("category/" + c.Name)
		for _, name := range c.Sinks {
			o, ok := origin[name]
			if !ok {
				o = reconcile.OriginConfig
			}
			fmt.Fprintf(&sb, "  %s --> %s\n", from, getID(sinkKey(o, name)))
		}
		for _, name := range c.Dynamic {
			fmt.Fprintf(&sb, "  %s -.-> %s\n", from, getID(sinkKey(reconcile.OriginDynamic, name)))
		}
	}
	return sb.String()
}

func sinkKey(o reconcile.Origin, name string) string {
	return "sink/" + string(o) + "/" + name
}

func label(info reconcile.SinkInfo) string {
	if info.Path == "" {
		return escape(info.Name)
	}
	return escape(info.Name) + "<br/>" + escape(shortPath(info.Path))
}

// shortPath returns the last 2 path segments for readability.
func shortPath(path string) string {
	parts := strings.Split(strings.ReplaceAll(path, "\\", "/"), "/")
	if len(parts) <= 2 {
		return path
	}
	return strings.Join(parts[len(parts)-2:], "/")
}

func escape(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}
