package health

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"golang.org/x/net/dns/dnsmessage"
)

const (
	// exchangeTimeout bounds the wait for one server's reply.
	exchangeTimeout = 5 * time.Second
	// replies to queries without EDNS0 are capped at 512 bytes
	maxUDPResponse = 1500
)

// DefaultDNSServers are the public resolvers queried during the DNS phase.
// Querying them directly bypasses stale records in local or corporate caches.
var DefaultDNSServers = []string{
	"1.1.1.1",
	"1.0.0.1",
	"2606:4700:4700::1111",
	"2606:4700:4700::1001",
}

// Resolver looks up IPv4 addresses for a host.
type Resolver interface {
	ResolveA(ctx context.Context, host string) ([]net.IP, error)
}

// DNSResolver resolves A records against a fixed list of upstream servers,
// trying each server once.
type DNSResolver struct {
	servers []string
	timeout time.Duration
}

// NewDNSResolver creates a resolver for the given servers. Servers may be bare
// IPs (port 53 is assumed) or host:port pairs. timeout bounds a whole ResolveA
// call across all servers; zero means no bound beyond ctx.
func NewDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		addrs = append(addrs, serverAddr(s))
	}
	return &DNSResolver{servers: addrs, timeout: timeout}
}

// Servers returns the host:port addresses the resolver queries, in order.
func (r *DNSResolver) Servers() []string {
	out := make([]string, len(r.servers))
	copy(out, r.servers)
	return out
}

// ResolveA returns the IPv4 addresses of host. Servers are tried in order,
// one query each, until one answers; a not-found answer is authoritative and
// ends the walk. The system resolver configuration and /etc/hosts are never
// consulted. An IP literal is returned without any query.
func (r *DNSResolver) ResolveA(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if len(r.servers) == 0 {
		return nil, errors.New("no DNS servers configured")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var lastErr error
	for _, server := range r.servers {
		ips, err := exchangeA(ctx, server, host)
		if err == nil {
			return ips, nil
		}
		lastErr = fmt.Errorf("resolving %s via %s: %w", host, server, err)

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

// exchangeA sends a single A query for host to server over UDP and waits for
// the matching reply. There are no retries.
func exchangeA(ctx context.Context, server, host string) ([]net.IP, error) {
	name, err := dnsmessage.NewName(fqdn(host))
	if err != nil {
		return nil, fmt.Errorf("invalid host name %q: %w", host, err)
	}
	id := uint16(rand.Uint32())
	query, err := (&dnsmessage.Message{
		Header: dnsmessage.Header{ID: id, RecursionDesired: true},
		Questions: []dnsmessage.Question{{
			Name:  name,
			Type:  dnsmessage.TypeA,
			Class: dnsmessage.ClassINET,
		}},
	}).Pack()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", server)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if _, err := conn.Write(query); err != nil {
		return nil, err
	}

	buf := make([]byte, maxUDPResponse)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		ips, ok, err := parseA(buf[:n], id, host, server)
		if !ok {
			// stray or malformed datagram; keep waiting for our reply
			continue
		}
		return ips, err
	}
}

// parseA extracts the A records of a reply. ok is false when msg is not the
// reply to query id.
func parseA(msg []byte, id uint16, host, server string) (ips []net.IP, ok bool, err error) {
	var p dnsmessage.Parser
	h, err := p.Start(msg)
	if err != nil || h.ID != id || !h.Response {
		return nil, false, nil
	}

	switch h.RCode {
	case dnsmessage.RCodeSuccess:
	case dnsmessage.RCodeNameError:
		return nil, true, &net.DNSError{Err: "no such host", Name: host, Server: server, IsNotFound: true}
	default:
		return nil, true, &net.DNSError{Err: "server misbehaving: " + h.RCode.String(), Name: host, Server: server}
	}

	if err := p.SkipAllQuestions(); err != nil {
		return nil, true, fmt.Errorf("parsing reply: %w", err)
	}
	for {
		ah, err := p.AnswerHeader()
		if errors.Is(err, dnsmessage.ErrSectionDone) {
			return ips, true, nil
		}
		if err != nil {
			return nil, true, fmt.Errorf("parsing reply: %w", err)
		}
		if ah.Type != dnsmessage.TypeA || ah.Class != dnsmessage.ClassINET {
			if err := p.SkipAnswer(); err != nil {
				return nil, true, fmt.Errorf("parsing reply: %w", err)
			}
			continue
		}
		a, err := p.AResource()
		if err != nil {
			return nil, true, fmt.Errorf("parsing reply: %w", err)
		}
		ips = append(ips, net.IPv4(a.A[0], a.A[1], a.A[2], a.A[3]))
	}
}

func serverAddr(s string) string {
	if _, _, err := net.SplitHostPort(s); err == nil {
		return s
	}
	return net.JoinHostPort(s, "53")
}

func fqdn(host string) string {
	if strings.HasSuffix(host, ".") {
		return host
	}
	return host + "."
}
