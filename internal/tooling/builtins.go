package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/vassal/pkg/models"
)

// calculatorArgs is the parameter shape of the calculator_compute built-in.
type calculatorArgs struct {
	Expression string `json:"expression" jsonschema:"required,description=Arithmetic expression using + - * / and parentheses"`
}

type calculatorResult struct {
	Result float64 `json:"result"`
}

type timeResult struct {
	ISO8601  string `json:"iso8601"`
	Unix     int64  `json:"unix"`
	Weekday  string `json:"weekday"`
	TimeZone string `json:"time_zone"`
}

type unitConvertArgs struct {
	Value float64 `json:"value" jsonschema:"required,description=Numeric value to convert"`
	From  string  `json:"from" jsonschema:"required,description=Source unit, e.g. km, mi, kg, lb, c, f"`
	To    string  `json:"to" jsonschema:"required,description=Target unit"`
}

type unitConvertResult struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// RegisterBuiltins registers the trivial compute tools surfaced through the
// tool interface (calculator, unit conversion, time). They are pure
// functions exercising the registry, not a subsystem in their own right.
func RegisterBuiltins(r *Registry) *models.Error {
	if err := r.Register(models.ToolDescriptor{
		Name:            "calculator_compute",
		Description:     "Evaluates an arithmetic expression and returns its numeric result.",
		Schema:          ReflectSchema(calculatorArgs{}),
		IsDeterministic: true,
		Executor:        calculatorExecutor,
	}); err != nil {
		return err
	}
	if err := r.Register(models.ToolDescriptor{
		Name:        "time_now",
		Description: "Returns the current local date and time.",
		Schema:      ReflectSchema(struct{}{}),
		Executor:    timeExecutor,
	}); err != nil {
		return err
	}
	return r.Register(models.ToolDescriptor{
		Name:            "unit_convert",
		Description:     "Converts a value between common length, mass, and temperature units.",
		Schema:          ReflectSchema(unitConvertArgs{}),
		IsDeterministic: true,
		Executor:        unitConvertExecutor,
	})
}

func timeExecutor(_ context.Context, _ json.RawMessage) (json.RawMessage, string) {
	now := time.Now()
	zone, _ := now.Zone()
	out, err := json.Marshal(timeResult{
		ISO8601:  now.Format(time.RFC3339),
		Unix:     now.Unix(),
		Weekday:  now.Weekday().String(),
		TimeZone: zone,
	})
	if err != nil {
		return nil, fmt.Sprintf("encode result: %v", err)
	}
	return out, ""
}

// toMetric maps each supported unit to its canonical base: meters for
// length, grams for mass. Temperature is handled separately since it is
// affine, not linear.
var toMetric = map[string]float64{
	"mm": 0.001, "cm": 0.01, "m": 1, "km": 1000,
	"in": 0.0254, "ft": 0.3048, "yd": 0.9144, "mi": 1609.344,
	"mg": 0.001, "g": 1, "kg": 1000,
	"oz": 28.349523125, "lb": 453.59237,
}

func unitConvertExecutor(_ context.Context, args json.RawMessage) (json.RawMessage, string) {
	var parsed unitConvertArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Sprintf("invalid arguments: %v", err)
	}
	from := strings.ToLower(strings.TrimSpace(parsed.From))
	to := strings.ToLower(strings.TrimSpace(parsed.To))

	value, err := convertUnits(parsed.Value, from, to)
	if err != nil {
		return nil, err.Error()
	}
	out, merr := json.Marshal(unitConvertResult{Value: value, Unit: to})
	if merr != nil {
		return nil, fmt.Sprintf("encode result: %v", merr)
	}
	return out, ""
}

func convertUnits(value float64, from, to string) (float64, error) {
	if isTemperature(from) || isTemperature(to) {
		if !isTemperature(from) || !isTemperature(to) {
			return 0, fmt.Errorf("cannot convert between %q and %q", from, to)
		}
		return convertTemperature(value, from, to)
	}
	fromFactor, okFrom := toMetric[from]
	toFactor, okTo := toMetric[to]
	if !okFrom {
		return 0, fmt.Errorf("unknown unit %q", from)
	}
	if !okTo {
		return 0, fmt.Errorf("unknown unit %q", to)
	}
	if isLength(from) != isLength(to) {
		return 0, fmt.Errorf("cannot convert between %q and %q", from, to)
	}
	return value * fromFactor / toFactor, nil
}

func isLength(unit string) bool {
	switch unit {
	case "mm", "cm", "m", "km", "in", "ft", "yd", "mi":
		return true
	}
	return false
}

func isTemperature(unit string) bool {
	switch unit {
	case "c", "f", "k", "celsius", "fahrenheit", "kelvin":
		return true
	}
	return false
}

func convertTemperature(value float64, from, to string) (float64, error) {
	var celsius float64
	switch from {
	case "c", "celsius":
		celsius = value
	case "f", "fahrenheit":
		celsius = (value - 32) * 5 / 9
	case "k", "kelvin":
		celsius = value - 273.15
	}
	switch to {
	case "c", "celsius":
		return celsius, nil
	case "f", "fahrenheit":
		return celsius*9/5 + 32, nil
	case "k", "kelvin":
		return celsius + 273.15, nil
	}
	return 0, fmt.Errorf("unknown temperature unit %q", to)
}

func calculatorExecutor(_ context.Context, args json.RawMessage) (json.RawMessage, string) {
	var parsed calculatorArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return nil, fmt.Sprintf("invalid arguments: %v", err)
	}
	value, err := evalExpression(parsed.Expression)
	if err != nil {
		return nil, err.Error()
	}
	out, err := json.Marshal(calculatorResult{Result: value})
	if err != nil {
		return nil, fmt.Sprintf("encode result: %v", err)
	}
	return out, ""
}

// evalExpression evaluates a small arithmetic grammar: +, -, *, / with
// standard precedence and parentheses, over float64 operands. It is a
// purpose-built recursive-descent parser rather than a dependency — no
// example repo in the retrieval pack carries an expression-evaluation
// library, and the grammar is small enough that hand-rolling it is the
// idiomatic choice.
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: strings.TrimSpace(expr)}
	val, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return 0, fmt.Errorf("unexpected trailing input at %d", p.pos)
	}
	return val, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && p.input[p.pos] == ' ' {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr() (float64, error) {
	val, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			val += rhs
		case '-':
			p.pos++
			rhs, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			val -= rhs
		default:
			return val, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	val, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			val *= rhs
		case '/':
			p.pos++
			rhs, err := p.parseFactor()
			if err != nil {
				return 0, err
			}
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			val /= rhs
		default:
			return val, nil
		}
	}
}

func (p *exprParser) parseFactor() (float64, error) {
	switch p.peek() {
	case '(':
		p.pos++
		val, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return val, nil
	case '-':
		p.pos++
		val, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		return -val, nil
	}
	return p.parseNumber()
}

func (p *exprParser) parseNumber() (float64, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at %d", start)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}
