package cli

import (
	"fmt"
	"os"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/spf13/cobra"
)

var encodeCmd = &cobra.Command{
	Use:   "encode <document.xml|->",
	Short: "Build a packet from an XML document",
	Long: `Encode an XML document into the packet body a cabinet would send or
receive, then print the framing headers that go with it.

Typed values use the __type attribute, arrays add __count:
  <call model="LDJ:J:A:A:2020092900" srcid="0120">
    <pcbtracker method="alive"><ecflag __type="u8">1</ecflag></pcbtracker>
  </call>

Examples:
  oxygen encode --compress --info 1-5f7a3c00-0001 -o alive.bin alive.xml
  oxygen encode --document text --encoding utf-8 -o plain.bin doc.xml`,
	Args: cobra.ExactArgs(1),
	RunE: runEncode,
}

type encodeOptions struct {
	compress bool
	info     string
	document string
	encoding string
	output   string
}

var encodeOpts = &encodeOptions{}

func init() {
	rootCmd.AddCommand(encodeCmd)

	encodeCmd.Flags().BoolVar(&encodeOpts.compress, "compress", false, "lz77 compress the body")
	encodeCmd.Flags().StringVar(&encodeOpts.info, "info", "", "X-Eamuse-Info value; encrypts the body when set")
	encodeCmd.Flags().StringVar(&encodeOpts.document, "document", "binary", "document grammar: binary, text")
	encodeCmd.Flags().StringVar(&encodeOpts.encoding, "encoding", "shift_jis", "document character set")
	encodeCmd.Flags().StringVarP(&encodeOpts.output, "output", "o", "", "output file (default stdout)")
}

func runEncode(cmd *cobra.Command, args []string) error {
	data, err := readInput(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	opts, err := encodeOpts.packetOptions()
	if err != nil {
		return err
	}
	frame, err := encodePacket(data, opts)
	if err != nil {
		return err
	}

	if encodeOpts.output == "" {
		out := cmd.OutOrStdout()
		if isTerminal(out) {
			return errors.New(ErrTerminalOutput, "refusing to write a binary packet to a terminal, use --output", nil)
		}
		if _, err := out.Write(frame.Body); err != nil {
			return errors.New(ErrWriteFailed, "failed to write packet", err)
		}
	} else if err := os.WriteFile(encodeOpts.output, frame.Body, 0644); err != nil {
		return errors.New(ErrWriteFailed, "failed to write packet", err).AddContext("path", encodeOpts.output)
	}

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "%s: %s\n", protocol.HeaderCompress, frame.Compression)
	if frame.Info != "" {
		fmt.Fprintf(stderr, "%s: %s\n", protocol.HeaderInfo, frame.Info)
	}
	return nil
}

func (o *encodeOptions) packetOptions() (protocol.Options, error) {
	enc, ok := kbin.ParseEncoding(o.encoding)
	if !ok {
		return protocol.Options{}, errors.New(ErrInvalidFlag, "unknown encoding", nil).AddContext("encoding", o.encoding)
	}

	doc := kbin.Options{Encoding: enc}
	switch o.document {
	case "binary":
		doc.Format = kbin.FormatBinary
	case "text":
		doc.Format = kbin.FormatText
	default:
		return protocol.Options{}, errors.New(ErrInvalidFlag, "unknown document grammar", nil).AddContext("document", o.document)
	}

	opts := protocol.Options{Document: doc, Compression: protocol.CompressionNone, Info: o.info}
	if o.compress {
		opts.Compression = protocol.CompressionLZ77
	}
	if o.info != "" {
		if _, err := protocol.ParseInfo(o.info); err != nil {
			return protocol.Options{}, err
		}
	}
	return opts, nil
}

// encodePacket parses an XML document and frames it with opts.
func encodePacket(xml []byte, opts protocol.Options) (protocol.Frame, error) {
	root, _, err := kbin.UnmarshalText(xml)
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Encode(&protocol.Envelope{Root: root, Options: opts})
}
