package expr

import "math"

// ApplyBinary applies a binary operator to scalars. Comparisons yield 1 or 0.
func ApplyBinary(op string, a, b float64) float64 {
	switch op {
	case "+":
		return a + b
	case "-":
		return a - b
	case "*":
		return a * b
	case "/":
		return a / b
	case "^":
		return math.Pow(a, b)
	case "<":
		return boolValue(a < b)
	case "<=":
		return boolValue(a <= b)
	case ">":
		return boolValue(a > b)
	case ">=":
		return boolValue(a >= b)
	case "==":
		return boolValue(a == b)
	case "!=":
		return boolValue(a != b)
	}
	return math.NaN()
}

// ApplyCall applies an elementwise function to scalars.
func ApplyCall(fn string, args []float64) float64 {
	switch fn {
	case "abs":
		return math.Abs(args[0])
	case "sqrt":
		return math.Sqrt(args[0])
	case "exp":
		return math.Exp(args[0])
	case "log":
		return math.Log(args[0])
	case "log10":
		return math.Log10(args[0])
	case "floor":
		return math.Floor(args[0])
	case "ceil":
		return math.Ceil(args[0])
	case "min":
		m := args[0]
		for _, v := range args[1:] {
			m = math.Min(m, v)
		}
		return m
	case "max":
		m := args[0]
		for _, v := range args[1:] {
			m = math.Max(m, v)
		}
		return m
	case "where":
		if args[0] != 0 {
			return args[1]
		}
		return args[2]
	}
	return math.NaN()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
