package protocol

import "github.com/gear6io/oxygen/server/protocol/kbin"

// Root names of request and response documents.
const (
	RootCall     = "call"
	RootResponse = "response"
)

// Compression header values.
const (
	CompressionLZ77 = "lz77"
	CompressionNone = "none"
)

// Options are the framing choices of one packet.
type Options struct {
	Document kbin.Options
	// Compression is the X-Compress value, CompressionLZ77 or CompressionNone.
	Compression string
	// Info is the X-Eamuse-Info value. Packets without it are not encrypted.
	Info string
}

// Encrypted reports whether the packet body is RC4 encrypted.
func (o Options) Encrypted() bool {
	return o.Info != ""
}

// Compressed reports whether the packet body is lz77 compressed.
func (o Options) Compressed() bool {
	return o.Compression == CompressionLZ77
}

// Envelope is one decoded packet.
type Envelope struct {
	Root    *kbin.Node
	Options Options
	// CorrelationID ties a response to its request in logs. It is the info
	// header when present.
	CorrelationID string
}

// Sequence returns the request counter carried in the info header.
func (e *Envelope) Sequence() (uint16, bool) {
	if e.Options.Info == "" {
		return 0, false
	}
	info, err := ParseInfo(e.Options.Info)
	if err != nil {
		return 0, false
	}
	return info.Counter, true
}

// Model returns the model attribute of a call, e.g. "LDJ:J:A:A:2020092900".
func (e *Envelope) Model() string {
	if e.Root == nil {
		return ""
	}
	return e.Root.Attr("model")
}

// SourceID returns the srcid attribute of a call (the PCBID).
func (e *Envelope) SourceID() string {
	if e.Root == nil {
		return ""
	}
	return e.Root.Attr("srcid")
}

// Service returns the single service node of a call.
func (e *Envelope) Service() *kbin.Node {
	if e.Root == nil || len(e.Root.Children) == 0 {
		return nil
	}
	return e.Root.Children[0]
}

// Method returns the method attribute of the service node.
func (e *Envelope) Method() string {
	if svc := e.Service(); svc != nil {
		return svc.Attr("method")
	}
	return ""
}

// NewResponse wraps body, the reply to the service node of req, in a
// response root. body gets status="0" unless it already has a status.
func NewResponse(req *Envelope, body *kbin.Node, compress bool) *Envelope {
	root := kbin.NewVoid(RootResponse)
	if req != nil && req.SourceID() != "" {
		root.SetAttr("dstid", req.SourceID())
	}
	if body != nil {
		if _, ok := body.LookupAttr("status"); !ok {
			body.SetAttr("status", "0")
		}
		root.Append(body)
	}
	return &Envelope{Root: root, Options: responseOptions(req, compress), CorrelationID: correlation(req)}
}

// NewErrorResponse builds the minimal reply sent when a request could not be
// served: the service node, if known, with the given status.
func NewErrorResponse(req *Envelope, status string) *Envelope {
	name := "error"
	method := ""
	if req != nil {
		if svc := req.Service(); svc != nil {
			name = svc.Name
			method = svc.Attr("method")
		}
	}
	body := kbin.NewVoid(name)
	if method != "" {
		body.SetAttr("method", method)
	}
	body.SetAttr("status", status)
	return NewResponse(req, body, false)
}

func responseOptions(req *Envelope, compress bool) Options {
	opts := Options{Document: kbin.DefaultOptions(), Compression: CompressionNone}
	if req != nil {
		opts.Document = req.Options.Document
		opts.Info = req.Options.Info
	}
	if compress {
		opts.Compression = CompressionLZ77
	}
	return opts
}

func correlation(req *Envelope) string {
	if req == nil {
		return ""
	}
	return req.CorrelationID
}
