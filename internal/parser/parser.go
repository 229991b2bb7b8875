// Package parser is the external collaborator that turns a lexer token
// stream into the ast.Node tree the IR builder consumes. It is a plain
// recursive-descent parser with precedence climbing for binary operators,
// following the shape of sentra's internal/parser package
// (NewParser(tokens).Parse(), an Errors slice collecting diagnostics
// instead of aborting on the first one). It also threads a
// internal/symtab.Table through scope-introducing constructs: a
// duplicate declaration or a reference to an undeclared name is recorded
// in Warnings, never Errors — unlike a parse error, it never stops
// lowering.
package parser

import (
	"fmt"
	"strconv"

	"mirlang/internal/ast"
	"mirlang/internal/lexer"
	"mirlang/internal/mirerrors"
	"mirlang/internal/symtab"
)

type Parser struct {
	tokens []lexer.Token
	pos    int
	Errors []error

	syms     *symtab.Table
	Warnings []string
}

func NewParser(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens, syms: symtab.New()}
}

func (p *Parser) warnf(line int, format string, args ...interface{}) {
	p.Warnings = append(p.Warnings, fmt.Sprintf("line %d: %s", line, fmt.Sprintf(format, args...)))
}

func (p *Parser) peek() lexer.Token  { return p.tokens[p.pos] }
func (p *Parser) atEnd() bool        { return p.peek().Type == lexer.TokenEOF }
func (p *Parser) advance() lexer.Token {
	t := p.tokens[p.pos]
	if !p.atEnd() {
		p.pos++
	}
	return t
}

func (p *Parser) check(t lexer.TokenType) bool {
	return p.peek().Type == t
}

func (p *Parser) match(types ...lexer.TokenType) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) expect(t lexer.TokenType, what string) lexer.Token {
	if p.check(t) {
		return p.advance()
	}
	tok := p.peek()
	p.Errors = append(p.Errors, mirerrors.New(mirerrors.Syntax, tok.Line, "expected %s, got %q", what, tok.Lexeme))
	return tok
}

// Parse returns the program as a chain of statement nodes linked through
// Sibling, with a single nil-terminated list as its root (the root node
// itself is the first statement, or nil for an empty program).
func (p *Parser) Parse() *ast.Node {
	var head, tail *ast.Node
	for !p.atEnd() {
		stmt := p.statement()
		if stmt == nil {
			if !p.atEnd() {
				p.advance() // resynchronize past the offending token
			}
			continue
		}
		if head == nil {
			head = stmt
		} else {
			tail.Sibling = stmt
		}
		tail = stmt
		for tail.Sibling != nil {
			tail = tail.Sibling
		}
	}
	return head
}

func (p *Parser) statement() *ast.Node {
	line := p.peek().Line
	switch {
	case p.match(lexer.TokenVar):
		return p.varDeclOrAssign(line, true)
	case p.check(lexer.TokenIdent) && p.tokens[p.pos+1].Type == lexer.TokenAssign:
		return p.varDeclOrAssign(line, false)
	case p.match(lexer.TokenPrint):
		return p.printStmt(line)
	case p.match(lexer.TokenIf):
		return p.ifStmt(line)
	case p.match(lexer.TokenWhile):
		return p.whileStmt(line)
	case p.match(lexer.TokenFor):
		return p.forStmt(line)
	case p.match(lexer.TokenFunc):
		return p.funcDecl(line)
	case p.match(lexer.TokenReturn):
		return p.returnStmt(line)
	case p.match(lexer.TokenTry):
		return p.tryStmt(line)
	case p.match(lexer.TokenThrow):
		return p.throwStmt(line)
	case p.check(lexer.TokenLBrace):
		return p.block()
	case p.check(lexer.TokenIdent) && (p.tokens[p.pos+1].Type == lexer.TokenInc || p.tokens[p.pos+1].Type == lexer.TokenDec):
		return p.incDec(line)
	default:
		expr := p.expression()
		p.match(lexer.TokenSemi)
		return expr
	}
}

func (p *Parser) varDeclOrAssign(line int, isDecl bool) *ast.Node {
	name := p.expect(lexer.TokenIdent, "identifier").Lexeme
	p.expect(lexer.TokenAssign, "':='")
	rhs := p.expression()
	p.match(lexer.TokenSemi)
	kind := ast.Assign
	if isDecl {
		kind = ast.VarDecl
		if !p.syms.Declare(name, symtab.KindVar, line) {
			p.warnf(line, "variable %q already declared in this scope", name)
		}
	} else if _, ok := p.syms.Resolve(name); !ok {
		p.warnf(line, "assignment to undeclared variable %q", name)
	}
	return &ast.Node{Kind: kind, Line: line, SVal: name, Left: rhs}
}

func (p *Parser) printStmt(line int) *ast.Node {
	p.expect(lexer.TokenLParen, "'('")
	arg := p.expression()
	p.expect(lexer.TokenRParen, "')'")
	p.match(lexer.TokenSemi)
	return &ast.Node{Kind: ast.Print, Line: line, Left: arg}
}

func (p *Parser) block() *ast.Node {
	line := p.peek().Line
	p.expect(lexer.TokenLBrace, "'{'")
	p.syms.Push()
	var body *ast.Node
	for !p.check(lexer.TokenRBrace) && !p.atEnd() {
		stmt := p.statement()
		if stmt == nil {
			continue
		}
		if body == nil {
			body = stmt
		} else {
			tail := body
			for tail.Sibling != nil {
				tail = tail.Sibling
			}
			tail.Sibling = stmt
		}
	}
	p.syms.Pop()
	p.expect(lexer.TokenRBrace, "'}'")
	return &ast.Node{Kind: ast.Block, Line: line, Body: body}
}

func (p *Parser) ifStmt(line int) *ast.Node {
	p.expect(lexer.TokenLParen, "'('")
	cond := p.expression()
	p.expect(lexer.TokenRParen, "')'")
	then := p.statement()
	var els *ast.Node
	if p.match(lexer.TokenElse) {
		els = p.statement()
	}
	return &ast.Node{Kind: ast.If, Line: line, Cond: cond, Body: then, CatchBody: els}
}

func (p *Parser) whileStmt(line int) *ast.Node {
	p.expect(lexer.TokenLParen, "'('")
	cond := p.expression()
	p.expect(lexer.TokenRParen, "')'")
	body := p.statement()
	return &ast.Node{Kind: ast.While, Line: line, Cond: cond, Body: body}
}

func (p *Parser) forStmt(line int) *ast.Node {
	p.expect(lexer.TokenLParen, "'('")
	init := p.statement()
	cond := p.expression()
	p.expect(lexer.TokenSemi, "';'")
	step := p.statement()
	p.expect(lexer.TokenRParen, "')'")
	body := p.statement()
	return &ast.Node{Kind: ast.For, Line: line, Init: init, Cond: cond, Step: step, Body: body}
}

func (p *Parser) funcDecl(line int) *ast.Node {
	name := p.expect(lexer.TokenIdent, "function name").Lexeme
	if !p.syms.Declare(name, symtab.KindFunc, line) {
		p.warnf(line, "function %q already declared in this scope", name)
	}
	p.expect(lexer.TokenLParen, "'('")
	p.syms.Push() // encloses params and the body block pushed by p.block()
	var params []*ast.Node
	for !p.check(lexer.TokenRParen) {
		pname := p.expect(lexer.TokenIdent, "parameter name").Lexeme
		p.syms.Declare(pname, symtab.KindParam, line)
		params = append(params, &ast.Node{Kind: ast.VarRef, SVal: pname, Line: line})
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRParen, "')'")
	body := p.block()
	p.syms.Pop()
	return &ast.Node{Kind: ast.FuncDecl, Line: line, SVal: name, Params: params, Body: body}
}

func (p *Parser) returnStmt(line int) *ast.Node {
	var val *ast.Node
	if !p.check(lexer.TokenSemi) && !p.check(lexer.TokenRBrace) {
		val = p.expression()
	}
	p.match(lexer.TokenSemi)
	return &ast.Node{Kind: ast.Return, Line: line, Left: val}
}

func (p *Parser) tryStmt(line int) *ast.Node {
	body := p.block()
	var catch *ast.Node
	if p.match(lexer.TokenCatch) {
		p.expect(lexer.TokenLParen, "'('")
		binding := p.expect(lexer.TokenIdent, "catch binding").Lexeme
		p.expect(lexer.TokenRParen, "')'")
		p.syms.Push()
		p.syms.Declare(binding, symtab.KindVar, line)
		catch = p.block()
		p.syms.Pop()
	}
	return &ast.Node{Kind: ast.Try, Line: line, Body: body, CatchBody: catch}
}

func (p *Parser) throwStmt(line int) *ast.Node {
	val := p.expression()
	p.match(lexer.TokenSemi)
	return &ast.Node{Kind: ast.Throw, Line: line, Left: val}
}

func (p *Parser) incDec(line int) *ast.Node {
	name := p.advance().Lexeme
	if _, ok := p.syms.Resolve(name); !ok {
		p.warnf(line, "increment/decrement of undeclared variable %q", name)
	}
	op := ast.OpInc
	if p.check(lexer.TokenDec) {
		op = ast.OpDec
	}
	p.advance()
	p.match(lexer.TokenSemi)
	return &ast.Node{Kind: ast.UnOp, Line: line, Op: op, SVal: name}
}

// expression parses a full expression with comparison as the lowest
// precedence level (no boolean and/or operators in this language).
func (p *Parser) expression() *ast.Node {
	return p.comparison()
}

func (p *Parser) comparison() *ast.Node {
	left := p.additive()
	for {
		var op ast.Op
		switch {
		case p.match(lexer.TokenEqEq):
			op = ast.OpEq
		case p.match(lexer.TokenNotEq):
			op = ast.OpNeq
		case p.match(lexer.TokenLT):
			op = ast.OpLt
		case p.match(lexer.TokenGT):
			op = ast.OpGt
		case p.match(lexer.TokenLE):
			op = ast.OpLte
		case p.match(lexer.TokenGE):
			op = ast.OpGte
		default:
			return left
		}
		line := left.Line
		right := p.additive()
		left = &ast.Node{Kind: ast.BinOp, Line: line, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) additive() *ast.Node {
	left := p.multiplicative()
	for {
		var op ast.Op
		switch {
		case p.match(lexer.TokenPlus):
			op = ast.OpAdd
		case p.match(lexer.TokenMinus):
			op = ast.OpSub
		default:
			return left
		}
		line := left.Line
		right := p.multiplicative()
		left = &ast.Node{Kind: ast.BinOp, Line: line, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) multiplicative() *ast.Node {
	left := p.unary()
	for {
		var op ast.Op
		switch {
		case p.match(lexer.TokenStar):
			op = ast.OpMul
		case p.match(lexer.TokenSlash):
			op = ast.OpDiv
		case p.match(lexer.TokenPercent):
			op = ast.OpMod
		default:
			return left
		}
		line := left.Line
		right := p.unary()
		left = &ast.Node{Kind: ast.BinOp, Line: line, Op: op, Left: left, Right: right}
	}
}

func (p *Parser) unary() *ast.Node {
	if p.match(lexer.TokenMinus) {
		line := p.peek().Line
		operand := p.unary()
		zero := &ast.Node{Kind: ast.IntLit, Line: line}
		return &ast.Node{Kind: ast.BinOp, Line: line, Op: ast.OpSub, Left: zero, Right: operand}
	}
	return p.postfix()
}

func (p *Parser) postfix() *ast.Node {
	expr := p.primary()
	for p.check(lexer.TokenLBracket) {
		line := p.peek().Line
		p.advance()
		idx := p.expression()
		p.expect(lexer.TokenRBracket, "']'")
		expr = &ast.Node{Kind: ast.ArrayAccess, Line: line, Left: expr, Right: idx}
	}
	return expr
}

func (p *Parser) primary() *ast.Node {
	tok := p.peek()
	switch {
	case p.match(lexer.TokenInt):
		v, _ := strconv.Atoi(tok.Lexeme)
		return &ast.Node{Kind: ast.IntLit, Line: tok.Line, IVal: v}
	case p.match(lexer.TokenFloat):
		v, _ := strconv.ParseFloat(tok.Lexeme, 64)
		return &ast.Node{Kind: ast.FloatLit, Line: tok.Line, FVal: v}
	case p.match(lexer.TokenString):
		return &ast.Node{Kind: ast.StringLit, Line: tok.Line, SVal: tok.Lexeme}
	case p.match(lexer.TokenLBracket):
		return p.arrayLiteral(tok.Line)
	case p.match(lexer.TokenLParen):
		e := p.expression()
		p.expect(lexer.TokenRParen, "')'")
		return e
	case p.check(lexer.TokenIdent):
		name := p.advance().Lexeme
		if p.check(lexer.TokenLParen) {
			return p.call(tok.Line, name)
		}
		if _, ok := p.syms.Resolve(name); !ok {
			p.warnf(tok.Line, "use of undeclared variable %q", name)
		}
		return &ast.Node{Kind: ast.VarRef, Line: tok.Line, SVal: name}
	default:
		p.Errors = append(p.Errors, mirerrors.New(mirerrors.Syntax, tok.Line, "unexpected token %q", tok.Lexeme))
		p.advance()
		return &ast.Node{Kind: ast.IntLit, Line: tok.Line}
	}
}

func (p *Parser) call(line int, name string) *ast.Node {
	p.expect(lexer.TokenLParen, "'('")
	var args []*ast.Node
	for !p.check(lexer.TokenRParen) {
		args = append(args, p.expression())
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRParen, "')'")
	return &ast.Node{Kind: ast.FuncCall, Line: line, SVal: name, Params: args}
}

func (p *Parser) arrayLiteral(line int) *ast.Node {
	var elems []*ast.Node
	for !p.check(lexer.TokenRBracket) {
		elems = append(elems, p.expression())
		if !p.match(lexer.TokenComma) {
			break
		}
	}
	p.expect(lexer.TokenRBracket, "']'")
	return &ast.Node{Kind: ast.ArrayDecl, Line: line, Params: elems}
}
