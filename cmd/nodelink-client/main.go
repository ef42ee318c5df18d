// Command nodelink-client drives the protocol phases against a remote peer.
//
// Subcommands:
//
//	register  open a channel and submit this node for approval
//	identify  ask the peer whether this node is known and authorized
//	session   authenticate and print the whoami view of the session
//
//	go run ./cmd/nodelink-client --peer=http://localhost:8080 --node-id=node-a --key=node-a.pem register
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/curanet/nodelink/client"
	"github.com/curanet/nodelink/cmd/common"
	"github.com/curanet/nodelink/protocol"
)

func main() {
	var (
		peerURL     = flag.String("peer", "", "Peer base URL (required)")
		nodeID      = flag.String("node-id", "", "Node identifier (required)")
		nodeName    = flag.String("node-name", "", "Display name, defaults to the node id")
		keyPath     = flag.String("key", "", "ECDSA private key PEM file (generated when missing)")
		certPath    = flag.String("cert", "", "Certificate PEM file (generated when missing)")
		level       = flag.String("level", "read_only", "Requested access level: read_only, read_write, admin")
		contactInfo = flag.String("contact", "", "Contact information for registration")
		institution = flag.String("institution", "", "Institution details for registration")
		nodeURL     = flag.String("node-url", "", "This node's own endpoint URL")
		logDebug    = flag.Bool("log-debug", false, "Log at debug level")
	)
	flag.Parse()

	log := common.SetupLogger(false, *logDebug)

	if *peerURL == "" || *nodeID == "" {
		fmt.Fprintln(os.Stderr, "--peer and --node-id are required")
		os.Exit(1)
	}
	command := flag.Arg(0)
	if command == "" {
		command = "identify"
	}

	requested, err := protocol.ParseAccessLevel(*level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --level: %v\n", err)
		os.Exit(1)
	}

	key, err := common.LoadOrGenerateKey(*keyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "key error: %v\n", err)
		os.Exit(1)
	}
	certPEM, err := common.LoadOrGenerateCertificate(*certPath, *nodeID, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "certificate error: %v\n", err)
		os.Exit(1)
	}

	name := *nodeName
	if name == "" {
		name = *nodeID
	}
	node, err := client.New(client.Config{
		BaseURL:            *peerURL,
		NodeID:             *nodeID,
		NodeName:           name,
		ContactInfo:        *contactInfo,
		InstitutionDetails: *institution,
		NodeURL:            *nodeURL,
		RequestedLevel:     requested,
		Signer:             key,
		CertificatePEM:     certPEM,
		Log:                log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "client error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if err := run(ctx, node, command); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", command, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, node *client.Node, command string) error {
	switch command {
	case "register":
		if err := node.OpenChannel(ctx); err != nil {
			return err
		}
		resp, err := node.Register(ctx)
		if err != nil {
			return err
		}
		return printJSON(resp)

	case "identify":
		if err := node.OpenChannel(ctx); err != nil {
			return err
		}
		resp, err := node.Identify(ctx)
		if err != nil {
			return err
		}
		return printJSON(resp)

	case "session":
		if _, err := node.EstablishSession(ctx); err != nil {
			return err
		}
		who, err := node.WhoAmI(ctx)
		if err != nil {
			return err
		}
		return printJSON(who)

	default:
		return fmt.Errorf("unknown command %q (want register, identify or session)", command)
	}
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
