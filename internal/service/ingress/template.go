package ingress

import (
	"fmt"
	"strings"
)

// Render produces the nginx routing-rule document body. The active port
// is the primary upstream server; during a traffic switch the outgoing
// slot stays listed as backup so in-flight requests keep a target.
func Render(doc RoutingDoc) string {
	upstream := upstreamName(doc)
	scope := doc.Project
	if doc.Environment != "" {
		scope += "/" + string(doc.Environment)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("# %s routing rule (generated, do not edit)\n", scope))
	b.WriteString(fmt.Sprintf("upstream %s {\n", upstream))
	b.WriteString(fmt.Sprintf("    server 127.0.0.1:%d max_fails=3 fail_timeout=5s;\n", doc.ActivePort))
	if doc.BackupPort > 0 {
		b.WriteString(fmt.Sprintf("    server 127.0.0.1:%d backup;\n", doc.BackupPort))
	}
	b.WriteString("}\n\n")
	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n")
	b.WriteString(fmt.Sprintf("    server_name %s;\n\n", strings.Join(doc.Domains, " ")))
	healthPath := doc.HealthPath
	if healthPath == "" {
		healthPath = "/health"
	}
	b.WriteString(fmt.Sprintf("    location = %s {\n", healthPath))
	b.WriteString(fmt.Sprintf("        proxy_pass http://%s;\n", upstream))
	b.WriteString("        access_log off;\n")
	b.WriteString("    }\n\n")
	b.WriteString("    location / {\n")
	b.WriteString(fmt.Sprintf("        proxy_pass http://%s;\n", upstream))
	b.WriteString("        proxy_http_version 1.1;\n")
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("        proxy_set_header X-Real-IP $remote_addr;\n")
	b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	b.WriteString("        proxy_set_header Upgrade $http_upgrade;\n")
	b.WriteString("        proxy_set_header Connection \"upgrade\";\n")
	if doc.DisableCache {
		b.WriteString("        add_header Cache-Control \"no-store\" always;\n")
	}
	b.WriteString(fmt.Sprintf("        add_header X-CodeB-Project %q always;\n", doc.Project))
	if doc.Version != "" {
		b.WriteString(fmt.Sprintf("        add_header X-CodeB-Version %q always;\n", doc.Version))
	}
	if doc.ActiveSlot != "" {
		b.WriteString(fmt.Sprintf("        add_header X-CodeB-Slot %q always;\n", doc.ActiveSlot))
	}
	b.WriteString("    }\n")
	b.WriteString("}\n")
	return b.String()
}

func upstreamName(doc RoutingDoc) string {
	name := doc.Project
	if doc.Environment != "" {
		name += "_" + string(doc.Environment)
	} else if doc.File != "" {
		name = strings.TrimSuffix(doc.File, ".conf")
	}
	return strings.ReplaceAll(strings.ReplaceAll(name, "-", "_"), ".", "_")
}
