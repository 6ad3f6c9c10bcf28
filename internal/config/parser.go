package config

import (
	"fmt"
)

type parser struct {
	lex     *lexer
	peeked  token
	hasPeek bool
}

func newParser(src string) *parser {
	return &parser{lex: newLexer(src)}
}

func (p *parser) parse() (*Config, error) {
	cfg := &Config{}

	var sawStmt bool
	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			break
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			if !sawStmt {
				cfg.Preamble = append(cfg.Preamble, tok.text)
			}
			continue
		}

		sawStmt = true
		if tok.kind != tokIdent {
			return nil, p.errAt(tok.pos, "unexpected token %q", tok.text)
		}
		if err := p.parseTopLevel(cfg); err != nil {
			return nil, err
		}
	}

	if !sawStmt {
		return nil, nil
	}
	return cfg, nil
}

func (p *parser) parseTopLevel(cfg *Config) error {
	nameTok, _ := p.next()
	if nameTok.kind != tokIdent {
		return p.errAt(nameTok.pos, "expected identifier")
	}

	switch nameTok.text {
	case "listen":
		if cfg.ListenSet {
			return p.errAt(nameTok.pos, "duplicate listen")
		}
		v, err := p.parseValue()
		if err != nil {
			return err
		}
		cfg.Listen = v
		cfg.ListenSet = true
		return nil
	case "status_listen":
		if cfg.StatusListenSet {
			return p.errAt(nameTok.pos, "duplicate status_listen")
		}
		v, err := p.parseValue()
		if err != nil {
			return err
		}
		cfg.StatusListen = v
		cfg.StatusListenSet = true
		return nil
	case "endpoint":
		if cfg.Endpoint != nil {
			return p.errAt(nameTok.pos, "duplicate endpoint block")
		}
		b, err := p.parseEndpointBlock()
		if err != nil {
			return err
		}
		cfg.Endpoint = b
		return nil
	case "store":
		if cfg.Store != nil {
			return p.errAt(nameTok.pos, "duplicate store block")
		}
		b, err := p.parseStoreBlock()
		if err != nil {
			return err
		}
		cfg.Store = b
		return nil
	case "router":
		b, err := p.parseRouterBlock()
		if err != nil {
			return err
		}
		for _, existing := range cfg.Routers {
			if existing.Type == b.Type {
				return p.errAt(nameTok.pos, "duplicate router block %q", b.Type)
			}
		}
		cfg.Routers = append(cfg.Routers, b)
		return nil
	case "observability":
		if cfg.Observability != nil {
			return p.errAt(nameTok.pos, "duplicate observability block")
		}
		b, err := p.parseObservabilityBlock()
		if err != nil {
			return err
		}
		cfg.Observability = b
		return nil
	default:
		return p.errAt(nameTok.pos, "unknown top-level directive %q", nameTok.text)
	}
}

func (p *parser) parseEndpointBlock() (*EndpointBlock, error) {
	if _, err := p.expect(tokLBrace, "expected '{' after endpoint"); err != nil {
		return nil, err
	}
	out := &EndpointBlock{}

	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			return nil, p.errAt(tok.pos, "unexpected EOF (missing '}')")
		}
		if tok.kind == tokRBrace {
			_, _ = p.next()
			break
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			continue
		}

		dirTok, _ := p.next()
		if dirTok.kind != tokIdent {
			return nil, p.errAt(dirTok.pos, "expected directive name")
		}
		switch dirTok.text {
		case "max_body":
			if out.MaxBodySet {
				return nil, p.errAt(dirTok.pos, "duplicate endpoint max_body")
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			out.MaxBody = v
			out.MaxBodySet = true
		case "token_key":
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			out.TokenKeys = append(out.TokenKeys, v)
		case "vapid":
			if out.Vapid != nil {
				return nil, p.errAt(dirTok.pos, "duplicate vapid block")
			}
			b, err := p.parseVapidBlock()
			if err != nil {
				return nil, err
			}
			out.Vapid = b
		default:
			return nil, p.errAt(dirTok.pos, "unknown endpoint directive %q", dirTok.text)
		}
	}

	return out, nil
}

func (p *parser) parseVapidBlock() (*VapidBlock, error) {
	if _, err := p.expect(tokLBrace, "expected '{' after vapid"); err != nil {
		return nil, err
	}
	out := &VapidBlock{}

	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			return nil, p.errAt(tok.pos, "unexpected EOF (missing '}')")
		}
		if tok.kind == tokRBrace {
			_, _ = p.next()
			break
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			continue
		}

		dirTok, _ := p.next()
		if dirTok.kind != tokIdent {
			return nil, p.errAt(dirTok.pos, "expected directive name")
		}
		switch dirTok.text {
		case "require_signature":
			if out.RequireSignatureSet {
				return nil, p.errAt(dirTok.pos, "duplicate vapid require_signature")
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			out.RequireSignature = v
			out.RequireSignatureSet = true
		default:
			return nil, p.errAt(dirTok.pos, "unknown vapid directive %q", dirTok.text)
		}
	}

	return out, nil
}

func (p *parser) parseStoreBlock() (*StoreBlock, error) {
	kindTok, err := p.expect(tokIdent, "expected store kind after store")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLBrace, "expected '{' after store %s", kindTok.text); err != nil {
		return nil, err
	}
	out := &StoreBlock{Kind: kindTok.text}

	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			return nil, p.errAt(tok.pos, "unexpected EOF (missing '}')")
		}
		if tok.kind == tokRBrace {
			_, _ = p.next()
			break
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			continue
		}

		dirTok, _ := p.next()
		if dirTok.kind != tokIdent {
			return nil, p.errAt(dirTok.pos, "expected directive name")
		}
		switch dirTok.text {
		case "path":
			if out.PathSet {
				return nil, p.errAt(dirTok.pos, "duplicate store path")
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			out.Path = v
			out.PathSet = true
		case "dsn":
			if out.DSNSet {
				return nil, p.errAt(dirTok.pos, "duplicate store dsn")
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			out.DSN = v
			out.DSNSet = true
		case "dir":
			if out.DirSet {
				return nil, p.errAt(dirTok.pos, "duplicate store dir")
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			out.Dir = v
			out.DirSet = true
		default:
			return nil, p.errAt(dirTok.pos, "unknown store directive %q", dirTok.text)
		}
	}

	return out, nil
}

func (p *parser) parseRouterBlock() (RouterBlock, error) {
	typTok, err := p.expect(tokIdent, "expected router type after router")
	if err != nil {
		return RouterBlock{}, err
	}
	if _, err := p.expect(tokLBrace, "expected '{' after router %s", typTok.text); err != nil {
		return RouterBlock{}, err
	}
	out := RouterBlock{Type: typTok.text}

	for {
		tok, err := p.peek()
		if err != nil {
			return RouterBlock{}, err
		}
		if tok.kind == tokEOF {
			return RouterBlock{}, p.errAt(tok.pos, "unexpected EOF (missing '}')")
		}
		if tok.kind == tokRBrace {
			_, _ = p.next()
			break
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			continue
		}

		dirTok, _ := p.next()
		if dirTok.kind != tokIdent {
			return RouterBlock{}, p.errAt(dirTok.pos, "expected directive name")
		}

		v, err := p.parseValue()
		if err != nil {
			return RouterBlock{}, err
		}

		switch dirTok.text {
		case "timeout":
			if out.TimeoutSet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router timeout")
			}
			out.Timeout = v
			out.TimeoutSet = true
		case "server_key":
			if out.ServerKeySet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router server_key")
			}
			out.ServerKey = v
			out.ServerKeySet = true
		case "endpoint":
			if out.EndpointSet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router endpoint")
			}
			out.Endpoint = v
			out.EndpointSet = true
		case "dry_run":
			if out.DryRunSet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router dry_run")
			}
			out.DryRun = v
			out.DryRunSet = true
		case "key_file":
			if out.KeyFileSet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router key_file")
			}
			out.KeyFile = v
			out.KeyFileSet = true
		case "key_id":
			if out.KeyIDSet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router key_id")
			}
			out.KeyID = v
			out.KeyIDSet = true
		case "team_id":
			if out.TeamIDSet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router team_id")
			}
			out.TeamID = v
			out.TeamIDSet = true
		case "topic":
			if out.TopicSet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router topic")
			}
			out.Topic = v
			out.TopicSet = true
		case "sandbox":
			if out.SandboxSet {
				return RouterBlock{}, p.errAt(dirTok.pos, "duplicate router sandbox")
			}
			out.Sandbox = v
			out.SandboxSet = true
		default:
			return RouterBlock{}, p.errAt(dirTok.pos, "unknown router directive %q", dirTok.text)
		}
	}

	return out, nil
}

func (p *parser) parseObservabilityBlock() (*ObservabilityBlock, error) {
	if _, err := p.expect(tokLBrace, "expected '{' after observability"); err != nil {
		return nil, err
	}
	out := &ObservabilityBlock{}

	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			return nil, p.errAt(tok.pos, "unexpected EOF (missing '}')")
		}
		if tok.kind == tokRBrace {
			_, _ = p.next()
			break
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			continue
		}

		dirTok, _ := p.next()
		if dirTok.kind != tokIdent {
			return nil, p.errAt(dirTok.pos, "expected directive name")
		}
		switch dirTok.text {
		case "tracing":
			if out.Tracing != nil {
				return nil, p.errAt(dirTok.pos, "duplicate tracing directive")
			}
			nextTok, err := p.peek()
			if err != nil {
				return nil, err
			}
			if nextTok.kind == tokLBrace {
				t, err := p.parseTracingBlock()
				if err != nil {
					return nil, err
				}
				out.Tracing = t
				break
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			out.Tracing = &TracingBlock{
				Enabled:    v,
				EnabledSet: true,
				shorthand:  true,
			}
		default:
			return nil, p.errAt(dirTok.pos, "unknown observability directive %q", dirTok.text)
		}
	}

	return out, nil
}

func (p *parser) parseTracingBlock() (*TracingBlock, error) {
	if _, err := p.expect(tokLBrace, "expected '{' after tracing"); err != nil {
		return nil, err
	}
	out := &TracingBlock{}

	for {
		tok, err := p.peek()
		if err != nil {
			return nil, err
		}
		if tok.kind == tokEOF {
			return nil, p.errAt(tok.pos, "unexpected EOF (missing '}')")
		}
		if tok.kind == tokRBrace {
			_, _ = p.next()
			break
		}
		if tok.kind == tokComment {
			_, _ = p.next()
			continue
		}

		dirTok, _ := p.next()
		if dirTok.kind != tokIdent {
			return nil, p.errAt(dirTok.pos, "expected directive name")
		}

		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}

		switch dirTok.text {
		case "enabled":
			if out.EnabledSet {
				return nil, p.errAt(dirTok.pos, "duplicate tracing enabled")
			}
			out.Enabled = v
			out.EnabledSet = true
		case "collector":
			if out.CollectorSet {
				return nil, p.errAt(dirTok.pos, "duplicate tracing collector")
			}
			out.Collector = v
			out.CollectorSet = true
		case "url_path":
			if out.URLPathSet {
				return nil, p.errAt(dirTok.pos, "duplicate tracing url_path")
			}
			out.URLPath = v
			out.URLPathSet = true
		case "insecure":
			if out.InsecureSet {
				return nil, p.errAt(dirTok.pos, "duplicate tracing insecure")
			}
			out.Insecure = v
			out.InsecureSet = true
		default:
			return nil, p.errAt(dirTok.pos, "unknown tracing directive %q", dirTok.text)
		}
	}

	return out, nil
}

func (p *parser) parseValue() (string, error) {
	tok, _ := p.next()
	switch tok.kind {
	case tokString, tokIdent:
		return tok.text, nil
	default:
		return "", p.errAt(tok.pos, "expected value")
	}
}

func (p *parser) peek() (token, error) {
	if p.hasPeek {
		return p.peeked, nil
	}
	tok, err := p.lex.nextToken()
	if err != nil {
		return token{}, err
	}
	p.peeked = tok
	p.hasPeek = true
	return tok, nil
}

func (p *parser) next() (token, error) {
	if p.hasPeek {
		p.hasPeek = false
		return p.peeked, nil
	}
	return p.lex.nextToken()
}

func (p *parser) expect(kind tokenKind, msg string, args ...any) (token, error) {
	tok, err := p.next()
	if err != nil {
		return token{}, err
	}
	if tok.kind != kind {
		return token{}, p.errAt(tok.pos, msg, args...)
	}
	return tok, nil
}

func (p *parser) errAt(pos position, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("config parse error at %s: %s", pos.String(), msg)
}
