// Package core serves the calls every title shares: service discovery,
// cabinet tracking, facility information and card management. It is
// registered as the registry fallback, so it answers for unknown models and
// for services a title does not implement.
package core

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/protocol/kbin"
)

// Services advertised by services.get, all served by this backend.
var advertised = []string{
	"cardmng", "dlstatus", "eacoin", "facility", "lobby", "local", "message",
	"package", "pcbevent", "pcbtracker", "pkglist", "posevent",
}

const ntpURL = "ntp://pool.ntp.org/"

// Options configure the core services.
type Options struct {
	// Host and Port form the backend URL handed to cabinets.
	Host string
	Port int
	// Mode is one of operation, debug, test or factory.
	Mode    string
	Expire  int
	AppName string
	Version string
	// ExtraServices are advertised in addition to the standard ones.
	ExtraServices []string
}

// OptionsFromConfig builds options from the server config.
func OptionsFromConfig(cfg *config.Config, version string) Options {
	host := cfg.Server.PublicHost
	if host == "" {
		host = cfg.Server.Host
	}
	return Options{
		Host:    host,
		Port:    cfg.Server.BackendPort,
		Mode:    cfg.Services.Mode,
		Expire:  cfg.Services.Expire,
		AppName: "Oxygen",
		Version: version,
	}
}

type services struct {
	opts Options
}

// New returns the core handler.
func New(opts Options) *dispatch.Router {
	if opts.Mode == "" {
		opts.Mode = "operation"
	}
	if opts.Expire <= 0 {
		opts.Expire = 600
	}
	s := &services{opts: opts}

	return dispatch.NewRouter("core").
		RouteFunc("services", "get", s.servicesGet).
		RouteFunc("pcbtracker", "alive", s.pcbtrackerAlive).
		RouteFunc("pcbevent", "put", s.pcbeventPut).
		RouteFunc("package", "list", s.packageList).
		RouteFunc("message", "get", s.messageGet).
		RouteFunc("dlstatus", "progress", s.dlstatusProgress).
		RouteFunc("facility", "get", s.facilityGet).
		Include(CardManager())
}

func (s *services) expire() string {
	return strconv.Itoa(s.opts.Expire)
}

func (s *services) servicesGet(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	url := fmt.Sprintf("http://%s/", net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port)))
	item := func(name, url string) *kbin.Node {
		return kbin.NewVoid("item").SetAttr("name", name).SetAttr("url", url)
	}

	root := kbin.NewVoid("services").
		SetAttr("expire", s.expire()).
		SetAttr("mode", s.opts.Mode).
		SetAttr("product_domain", "1")
	for _, name := range advertised {
		root.Append(item(name, url))
	}
	for _, name := range s.opts.ExtraServices {
		root.Append(item(name, url))
	}
	root.Append(item("ntp", ntpURL))

	ka := keepaliveAddr(ctx, s.opts.Host)
	root.Append(item("keepalive", fmt.Sprintf(
		"http://%[1]s/core/keepalive?pa=%[1]s&ia=%[1]s&ga=%[1]s&ma=%[1]s&t1=2&t2=10", ka)))
	return root, nil
}

// keepaliveAddr resolves host to an IPv4 literal. Cabinets ping the
// keepalive address directly and cannot resolve names there.
func keepaliveAddr(ctx context.Context, host string) string {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.String()
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil || len(addrs) == 0 {
		return host
	}
	return addrs[0].Unmap().String()
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (s *services) pcbtrackerAlive(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	return kbin.NewVoid("pcbtracker").
		SetAttr("ecenable", boolFlag(req.Paseli.Enabled)).
		SetAttr("expire", s.expire()), nil
}

func (s *services) pcbeventPut(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	for _, item := range req.Service.ChildrenNamed("item") {
		data := map[string]interface{}{
			"name":  item.ChildText("name"),
			"value": item.ChildInt("value", 0),
			"time":  item.ChildInt("time", 0),
			"model": req.Model.String(),
			"pcbid": req.PCBID(),
			"ip":    remoteIP(req),
		}
		if err := dispatch.PutEvent(ctx, req.Store, dispatch.EventPCBEvent, data); err != nil {
			return nil, err
		}
	}
	return kbin.NewVoid("pcbevent"), nil
}

func (s *services) packageList(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	return kbin.NewVoid("package").SetAttr("expire", s.expire()), nil
}

func (s *services) messageGet(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	return kbin.NewVoid("message").SetAttr("expire", s.expire()), nil
}

func (s *services) dlstatusProgress(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	return kbin.NewVoid("dlstatus"), nil
}

func remoteIP(req *dispatch.Request) string {
	if req.Session == nil {
		return ""
	}
	if ap, err := netip.ParseAddrPort(req.Session.Remote); err == nil {
		return ap.Addr().Unmap().String()
	}
	return req.Session.Remote
}

func (s *services) facilityGet(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
	m := req.Machine
	port := uint16(m.Port)
	title := s.opts.AppName
	if s.opts.Version != "" {
		title += " " + s.opts.Version
	}

	location := kbin.NewVoid("location",
		kbin.NewString("id", "US-"+m.PCBID),
		kbin.NewString("country", "US"),
		kbin.NewString("region", "."),
		kbin.NewString("name", m.Name),
		kbin.NewU8("type", 0),
	)
	line := kbin.NewVoid("line",
		kbin.NewString("id", "."),
		kbin.NewU8("class", 0),
	)
	portfw := kbin.NewVoid("portfw",
		kbin.NewIP4("globalip", remoteIP(req)),
		kbin.NewU16("globalport", port),
		kbin.NewU16("privateport", port),
	)
	public := kbin.NewVoid("public",
		kbin.NewU8("flag", 1),
		kbin.NewString("name", "."),
		kbin.NewString("latitude", "0"),
		kbin.NewString("longitude", "0"),
	)
	share := kbin.NewVoid("share",
		kbin.NewVoid("eacoin",
			kbin.NewS32("notchamount", 3000),
			kbin.NewS32("notchcount", 3),
			kbin.NewS32("supplylimit", 10000),
		),
		kbin.NewVoid("url",
			kbin.NewString("eapass", title),
			kbin.NewString("arcadefan", title),
			kbin.NewString("konaminetdx", title),
			kbin.NewString("konamiid", title),
			kbin.NewString("eagate", title),
		),
		kbin.NewVoid("eapass",
			kbin.NewU16("valid", 365),
		),
	)

	return kbin.NewVoid("facility", location, line, portfw, public, share).
		SetAttr("expire", s.expire()), nil
}
