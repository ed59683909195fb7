package formula

import (
	"errors"
	"fmt"
	"strconv"
)

var errSyntax = errors.New("formula syntax error")

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokField
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	num  float64
	slot int
	op   byte
}

// node is an expression tree node evaluated against positional field slots.
type node interface {
	eval(slots []float64) float64
}

type numberNode float64

func (n numberNode) eval([]float64) float64 { return float64(n) }

type fieldNode int

func (n fieldNode) eval(slots []float64) float64 { return slots[int(n)] }

type negNode struct{ x node }

func (n negNode) eval(slots []float64) float64 { return -n.x.eval(slots) }

type binaryNode struct {
	op   byte
	l, r node
}

func (n binaryNode) eval(slots []float64) float64 {
	l, r := n.l.eval(slots), n.r.eval(slots)
	switch n.op {
	case '+':
		return l + r
	case '-':
		return l - r
	case '*':
		return l * r
	default:
		return l / r
	}
}

// tokenize splits an expression whose field references have already been
// replaced by slot markers. Markers are encoded as '\x00' followed by the
// slot index byte.
func tokenize(expr string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(expr); {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == slotMarker:
			if i+1 >= len(expr) {
				return nil, errSyntax
			}
			tokens = append(tokens, token{kind: tokField, slot: int(expr[i+1])})
			i += 2
		case c == '+' || c == '-' || c == '*' || c == '/':
			tokens = append(tokens, token{kind: tokOp, op: c})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen})
			i++
		case (c >= '0' && c <= '9') || c == '.':
			start := i
			for i < len(expr) && ((expr[i] >= '0' && expr[i] <= '9') || expr[i] == '.') {
				i++
			}
			v, err := strconv.ParseFloat(expr[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q", errSyntax, expr[start:i])
			}
			tokens = append(tokens, token{kind: tokNumber, num: v})
		default:
			return nil, fmt.Errorf("%w: unexpected %q", errSyntax, c)
		}
	}
	return append(tokens, token{kind: tokEOF}), nil
}

// parser is a recursive-descent parser over
//
//	expr   := term (('+'|'-') term)*
//	term   := unary (('*'|'/') unary)*
//	unary  := ('+'|'-') unary | primary
//	primary:= number | field | '(' expr ')'
type parser struct {
	tokens []token
	pos    int
}

func parse(tokens []token) (node, error) {
	p := &parser{tokens: tokens}
	n, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("%w: trailing input", errSyntax)
	}
	return n, nil
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.op != '+' && t.op != '-') {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.op, l: left, r: right}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.op != '*' && t.op != '/') {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: t.op, l: left, r: right}
	}
}

func (p *parser) unary() (node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.op == '+' || t.op == '-') {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		if t.op == '-' {
			return negNode{x: x}, nil
		}
		return x, nil
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return numberNode(t.num), nil
	case tokField:
		return fieldNode(t.slot), nil
	case tokLParen:
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("%w: missing ')'", errSyntax)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token", errSyntax)
	}
}
