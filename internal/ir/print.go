package ir

import (
	"fmt"
	"strings"
)

// Text renders the program as one textual IR instruction per line.
func (p *Program) Text() string {
	var b strings.Builder
	p.Each(func(i *Instr) {
		b.WriteString(i.Text())
		b.WriteByte('\n')
	})
	return b.String()
}

// Text renders one instruction in the format matching its opcode.
func (i *Instr) Text() string {
	switch i.Op {
	case ASSIGN:
		return fmt.Sprintf("%s = %s", i.Result, i.Arg1)
	case ADD, SUB, MUL, DIV, MOD, EQ, NEQ, LT, GT, LTE, GTE:
		return fmt.Sprintf("%s = %s %s %s", i.Result, i.Arg1, symbolFor(i.Op), i.Arg2)
	case PRINT:
		return fmt.Sprintf("PRINT %s", i.Arg1)
	case LABEL:
		return fmt.Sprintf("%s:", i.Result)
	case GOTO:
		return fmt.Sprintf("GOTO %s", i.Result)
	case IF_FALSE:
		return fmt.Sprintf("IF_FALSE %s GOTO %s", i.Arg1, i.Result)
	case RETURN:
		return fmt.Sprintf("RETURN %s", i.Arg1)
	case PARAM:
		return fmt.Sprintf("PARAM %s", i.Arg1)
	case CALL:
		return fmt.Sprintf("%s = CALL %s, %s", i.Result, i.Arg1, i.Arg2)
	case TRY_START:
		return fmt.Sprintf("TRY_START %s", i.Arg1)
	case TRY_END:
		return "TRY_END"
	case THROW:
		return fmt.Sprintf("THROW %s", i.Arg1)
	default:
		return i.Op.String()
	}
}

func symbolFor(op Opcode) string {
	switch op {
	case ADD:
		return "+"
	case SUB:
		return "-"
	case MUL:
		return "*"
	case DIV:
		return "/"
	case MOD:
		return "%"
	case EQ:
		return "=="
	case NEQ:
		return "!="
	case LT:
		return "<"
	case GT:
		return ">"
	case LTE:
		return "<="
	case GTE:
		return ">="
	default:
		return "?"
	}
}
