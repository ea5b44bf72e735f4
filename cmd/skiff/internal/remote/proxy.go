package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/skiffworks/skiff/cmd/skiff/internal/sshchan"
	"github.com/skiffworks/skiff/pkg/logging"
)

var (
	// ErrProxySyntax means the generated site definition failed nginx -t.
	// The running proxy keeps its previous configuration; the new file is
	// written but never reloaded into the process.
	ErrProxySyntax = errors.New("proxy configuration test failed")

	// ErrProxyWrite is wrapped into failures writing or activating the
	// site definition.
	ErrProxyWrite = errors.New("proxy configuration write failed")
)

// Proxy writes and activates the nginx site routing the public port to the
// container's loopback port. Activation is atomic-by-replacement: overwrite
// the site file, relink it into sites-enabled, then gate the reload on a
// passing syntax check.
type Proxy struct {
	r   Runner
	log *logging.Logger
}

// NewProxy creates the reverse proxy configurator.
func NewProxy(r Runner, log *logging.Logger) *Proxy {
	return &Proxy{r: r, log: log}
}

// siteConfig renders the fixed site definition. Standard forwarding headers,
// connect timeout 5s, read timeout 30s.
func siteConfig(publicPort, appPort int) string {
	return fmt.Sprintf(`server {
    listen %d;
    listen [::]:%d;

    location / {
        proxy_pass http://127.0.0.1:%d;
        proxy_set_header Host $host;
        proxy_set_header X-Real-IP $remote_addr;
        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
        proxy_set_header X-Forwarded-Proto $scheme;
        proxy_connect_timeout 5s;
        proxy_read_timeout 30s;
    }
}
`, publicPort, publicPort, appPort)
}

// Configure writes the site definition, activates it, and reloads nginx if
// and only if the syntax check passes.
func (p *Proxy) Configure(ctx context.Context, publicPort, appPort int) error {
	conf := siteConfig(publicPort, appPort)

	write := fmt.Sprintf("printf '%%s' %s > %s", sshchan.Quote(conf), siteAvailablePath)
	if res, err := p.r.ExecuteSudo(ctx, write); err != nil || !res.Ok() {
		return fmt.Errorf("%w: %s", ErrProxyWrite, res.Stderr)
	}

	link := fmt.Sprintf("ln -sf %s %s", siteAvailablePath, siteEnabledPath)
	if res, err := p.r.ExecuteSudo(ctx, link); err != nil || !res.Ok() {
		return fmt.Errorf("%w: %s", ErrProxyWrite, res.Stderr)
	}

	res, err := p.r.ExecuteSudo(ctx, "nginx -t")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProxySyntax, err)
	}
	if !res.Ok() {
		// Deactivate the broken site so a later external reload does not
		// pick it up; the site file itself stays for inspection.
		if unlink, err := p.r.ExecuteSudo(ctx, "rm -f "+siteEnabledPath); err != nil || !unlink.Ok() {
			p.log.Warn("could not deactivate failed site", "stderr", unlink.Stderr)
		}
		return fmt.Errorf("%w: %v", ErrProxySyntax,
			NewCommandError("nginx -t", res.ExitStatus, res.Stderr, nil))
	}

	if res, err := p.r.ExecuteSudo(ctx, "systemctl reload nginx"); err != nil || !res.Ok() {
		return fmt.Errorf("%w: reload: %s", ErrProxyWrite, res.Stderr)
	}
	p.log.Info("proxy site active", "site", ProxySite,
		"public_port", publicPort, "app_port", appPort)
	return nil
}
