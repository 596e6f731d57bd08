package core

import (
	"context"
	"io"
	"net/netip"
	"testing"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/dispatch"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/session"
	"github.com/gear6io/oxygen/server/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	handler *dispatch.Router
	store   store.Store
	sess    *session.Session
	paseli  config.PaseliConfig
	machine dispatch.Machine
}

func newFixture() *fixture {
	return &fixture{
		handler: New(Options{Host: "10.0.0.1", Port: 8083, AppName: "Oxygen", Version: "0.1.0"}),
		store:   store.NewMemory(),
		sess:    session.New("http-test", "http", "192.168.1.20:5555"),
		paseli:  config.PaseliConfig{Enabled: true},
		machine: dispatch.Machine{PCBID: "0120", Name: "Cab 1", Port: 10011},
	}
}

func (f *fixture) call(t *testing.T, modelString string, service *kbin.Node) (*kbin.Node, error) {
	t.Helper()
	model, err := registry.ParseModel(modelString)
	require.NoError(t, err)

	root := kbin.NewVoid(protocol.RootCall).SetAttr("model", modelString).SetAttr("srcid", f.machine.PCBID).Append(service)
	req := &dispatch.Request{
		Envelope: &protocol.Envelope{Root: root},
		Session:  f.sess,
		Model:    model,
		Service:  service,
		Machine:  f.machine,
		Paseli:   f.paseli,
		Store:    f.store,
		Logger:   zerolog.New(io.Discard),
	}
	return f.handler.Handle(context.Background(), req)
}

func (f *fixture) mustCall(t *testing.T, modelString string, service *kbin.Node) *kbin.Node {
	t.Helper()
	body, err := f.call(t, modelString, service)
	require.NoError(t, err)
	require.NotNil(t, body)
	return body
}

func method(service, m string) *kbin.Node {
	return kbin.NewVoid(service).SetAttr("method", m)
}

const ldj = "LDJ:J:A:A:2020092900"

func TestServicesGet(t *testing.T) {
	f := newFixture()
	body := f.mustCall(t, ldj, method("services", "get"))

	assert.Equal(t, "services", body.Name)
	assert.Equal(t, "600", body.Attr("expire"))
	assert.Equal(t, "operation", body.Attr("mode"))
	assert.Equal(t, "1", body.Attr("product_domain"))

	urls := map[string]string{}
	for _, item := range body.ChildrenNamed("item") {
		urls[item.Attr("name")] = item.Attr("url")
	}
	assert.Len(t, urls, len(advertised)+2)
	assert.Equal(t, "http://10.0.0.1:8083/", urls["cardmng"])
	assert.Equal(t, "http://10.0.0.1:8083/", urls["pcbtracker"])
	assert.Equal(t, ntpURL, urls["ntp"])
	assert.Equal(t, "http://10.0.0.1/core/keepalive?pa=10.0.0.1&ia=10.0.0.1&ga=10.0.0.1&ma=10.0.0.1&t1=2&t2=10", urls["keepalive"])
}

func TestServicesGetExtraServices(t *testing.T) {
	f := newFixture()
	f.handler = New(Options{Host: "10.0.0.1", Port: 80, ExtraServices: []string{"eemall"}, Mode: "debug", Expire: 3600})
	body := f.mustCall(t, ldj, method("services", "get"))

	assert.Equal(t, "debug", body.Attr("mode"))
	assert.Equal(t, "3600", body.Attr("expire"))
	var names []string
	for _, item := range body.ChildrenNamed("item") {
		names = append(names, item.Attr("name"))
	}
	assert.Contains(t, names, "eemall")
}

func TestPCBTrackerAlive(t *testing.T) {
	f := newFixture()
	body := f.mustCall(t, ldj, method("pcbtracker", "alive"))
	assert.Equal(t, "1", body.Attr("ecenable"))
	assert.Equal(t, "600", body.Attr("expire"))

	f.paseli.Enabled = false
	body = f.mustCall(t, ldj, method("pcbtracker", "alive"))
	assert.Equal(t, "0", body.Attr("ecenable"))
}

func TestPCBEventPut(t *testing.T) {
	f := newFixture()
	item := func(name string, value int32) *kbin.Node {
		return kbin.NewVoid("item",
			kbin.NewString("name", name),
			kbin.NewS32("value", value),
			kbin.NewTime("time", 1601337600),
		)
	}
	svc := method("pcbevent", "put").Append(
		kbin.NewTime("time", 1601337600),
		kbin.NewU32("seq", 1),
		item("boot", 1),
		item("coin", 2),
	)

	body := f.mustCall(t, ldj, svc)
	assert.Equal(t, "pcbevent", body.Name)

	events, err := f.store.ListRecords(context.Background(), store.KindEvent, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	names := map[string]int64{}
	for _, ev := range events {
		assert.Equal(t, dispatch.EventPCBEvent, ev.Record.String("type"))
		assert.Equal(t, "0120", ev.Record.String("data.pcbid"))
		assert.Equal(t, "192.168.1.20", ev.Record.String("data.ip"))
		assert.Equal(t, int64(1601337600), ev.Record.Int("data.time"))
		names[ev.Record.String("data.name")] = ev.Record.Int("data.value")
	}
	assert.Equal(t, map[string]int64{"boot": 1, "coin": 2}, names)
}

func TestExpiringStubs(t *testing.T) {
	f := newFixture()
	for _, tt := range []struct{ service, method string }{
		{"package", "list"},
		{"message", "get"},
	} {
		body := f.mustCall(t, ldj, method(tt.service, tt.method))
		assert.Equal(t, tt.service, body.Name)
		assert.Equal(t, "600", body.Attr("expire"))
	}

	body := f.mustCall(t, ldj, method("dlstatus", "progress"))
	assert.Equal(t, "dlstatus", body.Name)
	assert.Empty(t, body.Children)
}

func TestFacilityGet(t *testing.T) {
	f := newFixture()
	body := f.mustCall(t, ldj, method("facility", "get"))

	assert.Equal(t, "600", body.Attr("expire"))
	assert.Equal(t, "US-0120", body.Path("location/id").Text())
	assert.Equal(t, "Cab 1", body.Path("location/name").Text())

	ip := body.Path("portfw/globalip")
	require.NotNil(t, ip)
	assert.Equal(t, netip.MustParseAddr("192.168.1.20"), ip.Value)
	assert.Equal(t, int64(10011), body.Path("portfw").ChildInt("globalport", 0))
	assert.Equal(t, int64(3000), body.Path("share/eacoin").ChildInt("notchamount", 0))
	assert.Equal(t, "Oxygen 0.1.0", body.Path("share/url/eagate").Text())
	assert.Equal(t, int64(365), body.Path("share/eapass").ChildInt("valid", 0))

	// the reply must survive the binary codec
	_, err := kbin.Serialize(body, kbin.DefaultOptions())
	require.NoError(t, err)
}

func TestFacilityGetForwardedAddress(t *testing.T) {
	f := newFixture()
	f.sess = session.New("http-test", "http", "203.0.113.7")
	body := f.mustCall(t, ldj, method("facility", "get"))

	assert.Equal(t, netip.MustParseAddr("203.0.113.7"), body.Path("portfw/globalip").Value)
}

func TestUnknownCoreCall(t *testing.T) {
	f := newFixture()
	_, err := f.call(t, ldj, method("lobby", "entry"))
	assert.True(t, errors.HasCode(err, dispatch.ErrNotHandled))

	_, err = f.call(t, ldj, method("cardmng", "frobnicate"))
	assert.True(t, errors.HasCode(err, dispatch.ErrNotHandled))
}

func TestCoreAsFallback(t *testing.T) {
	b := registry.NewBuilder[dispatch.Handler]()
	b.Register("KFC", registry.AllVersions, dispatch.NewRouter("sdvx").RouteFunc("game", "", func(ctx context.Context, req *dispatch.Request) (*kbin.Node, error) {
		return kbin.NewVoid("game"), nil
	}))
	b.Fallback(New(Options{Host: "127.0.0.1", Port: 8083}))
	reg, err := b.Build()
	require.NoError(t, err)

	d := dispatch.New(reg, store.NewMemory(), dispatch.Options{Paseli: config.PaseliConfig{Enabled: true}}, zerolog.New(io.Discard))

	for i, model := range []string{"KFC:J:A:A:2019020600", "MDX:J:A:A:2019022600"} {
		root := kbin.NewVoid(protocol.RootCall).SetAttr("model", model).SetAttr("srcid", "0200").Append(method("pcbtracker", "alive"))
		frame, err := protocol.Encode(&protocol.Envelope{Root: root, Options: protocol.Options{
			Document:    kbin.DefaultOptions(),
			Compression: protocol.CompressionLZ77,
			Info:        protocol.Info{Version: 1, Time: 0x5f7a3c00, Counter: uint16(i + 1)}.String(),
		}})
		require.NoError(t, err)

		res := d.Dispatch(context.Background(), session.New("s", "test", "127.0.0.1:1"), frame)
		require.NoError(t, res.Err, model)
		env, err := protocol.Decode(res.Frame)
		require.NoError(t, err)
		assert.Equal(t, "1", env.Root.Child("pcbtracker").Attr("ecenable"), model)
	}
}
