package vm

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember/internal/config"
	"ember/internal/object"
	"ember/internal/value"
)

// syncBuffer collects output from the main VM and its async children.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func runWithConfig(t *testing.T, cfg *config.Config, source string) (string, string, InterpretResult) {
	t.Helper()
	machine := NewDispatcher(cfg).Main()
	var out, errOut syncBuffer
	machine.SetOutput(&out, &errOut)
	result := machine.Interpret(source)
	return out.String(), errOut.String(), result
}

func run(t *testing.T, source string) (string, string, InterpretResult) {
	return runWithConfig(t, nil, source)
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{
			"arithmetic and print",
			"print 1 + 2 * 3;",
			[]string{"7"},
		},
		{
			"string concatenation",
			`print "Hello, " + "world!";`,
			[]string{"Hello, world!"},
		},
		{
			"closure counter",
			`fun makeCounter() { var n = 0; fun c() { n = n + 1; return n; } return c; }
var c = makeCounter(); print c(); print c(); print c();`,
			[]string{"1", "2", "3"},
		},
		{
			"class with init and method",
			`class Box { init(v) { this.v = v; } get() { return this.v; } }
print Box(42).get();`,
			[]string{"42"},
		},
		{
			"inheritance with super",
			`class A { greet() { print "A"; } }
class B < A { greet() { super.greet(); print "B"; } }
B().greet();`,
			[]string{"A", "B"},
		},
		{
			"list indexing",
			"var xs = [10, 20, 30]; xs[1] = 99; print xs[1];",
			[]string{"99"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, result := run(t, tt.source)
			require.Equal(t, InterpretOK, result, errOut)
			assert.Equal(t, tt.want, lines(out))
		})
	}
}

func TestOperators(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   string
	}{
		{"modulo", "print 10 % 3;", "1"},
		{"modulo truncates operands", "print 10.9 % 3.9;", "1"},
		{"negate", "print -(2 + 3);", "-5"},
		{"not", "print !nil;", "true"},
		{"comparison", "print 2 <= 2;", "true"},
		{"equality strings", `print "a" + "b" == "ab";`, "true"},
		{"inequality", "print 1 != 2;", "true"},
		{"and short circuit", "print false and undefinedThing;", "false"},
		{"or short circuit", "print true or undefinedThing;", "true"},
		{"and yields right", "print 1 and 2;", "2"},
		{"char subtraction", `print "b" - "a";`, "1"},
		{"list print", "print [1, 2, [3]];", "[1, 2, [3]]"},
		{"string index", `print "abc"[1];`, "b"},
		{"nested function call", "fun sq(x) { return x * x; } print sq(sq(2));", "16"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, result := run(t, tt.source)
			require.Equal(t, InterpretOK, result, errOut)
			assert.Equal(t, []string{tt.want}, lines(out))
		})
	}
}

func TestCharSubtractionDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.VM.CharSubtraction = false
	_, errOut, result := runWithConfig(t, cfg, `print "b" - "a";`)
	assert.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errOut, "Operands must be numbers.")
}

func TestControlFlow(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{
			"if else",
			"if (1 > 2) print \"then\"; else print \"else\";",
			[]string{"else"},
		},
		{
			"while",
			"var i = 0; while (i < 3) { print i; i = i + 1; }",
			[]string{"0", "1", "2"},
		},
		{
			"for",
			"for (var i = 0; i < 3; i = i + 1) print i;",
			[]string{"0", "1", "2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, result := run(t, tt.source)
			require.Equal(t, InterpretOK, result, errOut)
			assert.Equal(t, tt.want, lines(out))
		})
	}
}

func TestUpvaluesCloseBySlot(t *testing.T) {
	source := `
var globalOne;
var globalTwo;
fun main() {
  {
    var a = "one";
    fun one() { print a; }
    globalOne = one;
  }
  {
    var a = "two";
    fun two() { print a; }
    globalTwo = two;
  }
}
main();
globalOne();
globalTwo();
`
	out, errOut, result := run(t, source)
	require.Equal(t, InterpretOK, result, errOut)
	assert.Equal(t, []string{"one", "two"}, lines(out))
}

func TestSharedUpvalueCell(t *testing.T) {
	source := `
fun pair() {
  var n = 0;
  fun bump() { n = n + 1; }
  fun get() { return n; }
  bump(); bump();
  print get();
}
pair();
`
	out, errOut, result := run(t, source)
	require.Equal(t, InterpretOK, result, errOut)
	assert.Equal(t, []string{"2"}, lines(out))
}

func TestMethodsAndFields(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{
			"fields shadow methods",
			`class C { m() { return "method"; } }
var c = C();
c.m = "field";
print c.m;`,
			[]string{"field"},
		},
		{
			"callable field via invoke",
			`fun free() { return "free"; }
class C {}
var c = C();
c.f = free;
print c.f();`,
			[]string{"free"},
		},
		{
			"bound method retains receiver",
			`class Counter { init() { this.n = 0; } inc() { this.n = this.n + 1; return this.n; } }
var c = Counter();
var inc = c.inc;
inc(); inc();
print c.n;`,
			[]string{"2"},
		},
		{
			"inherited methods",
			`class A { hello() { return "hi"; } }
class B < A {}
print B().hello();`,
			[]string{"hi"},
		},
		{
			"init returns the instance",
			`class P { init(x) { this.x = x; } }
print P(5).x;`,
			[]string{"5"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, result := run(t, tt.source)
			require.Equal(t, InterpretOK, result, errOut)
			assert.Equal(t, tt.want, lines(out))
		})
	}
}

func TestRuntimeErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		message string
	}{
		{"add mixed", `print 1 + "one";`, "Operands must be two numbers or two strings."},
		{"subtract strings", `print "long" - "er";`, "Operands must be numbers."},
		{"negate string", `print -"a";`, "Operand must be a number."},
		{"undefined variable", "print missing;", "Undefined variable 'missing'."},
		{"undefined assignment", "missing = 1;", "Undefined variable 'missing'."},
		{"call number", "1();", "Can only call functions and classes."},
		{"arity", "fun f(a, b) {} f(1);", "Expected 2 arguments but got 1."},
		{"class arity", "class C {} C(1);", "Expected 0 arguments but got 1."},
		{"undefined property", "class C {} print C().missing;", "Undefined property 'missing'."},
		{"property on number", "print (1).x;", "Only instances have properties."},
		{"method on number", "var n = 1; n.m();", "Only instances have methods."},
		{"inherit from value", "var NotAClass = 1; class C < NotAClass {}", "Superclass must be a class."},
		{"list index range", "var xs = [1]; print xs[1];", "List index out of range."},
		{"list index fraction", "var xs = [1, 2]; print xs[0.5];", "List index out of range."},
		{"string index range", `print "ab"[2];`, "String index out of range."},
		{"index number", "print (1)[0];", "Only lists and strings can be indexed."},
		{"string index set length", `var s = "abc"; s[0] = "xy";`, "String assignment requires a one-character string."},
		{"native argument", "rand(0);", "rand expects a positive bound."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut, result := run(t, tt.source)
			require.Equal(t, InterpretRuntimeError, result)
			assert.Contains(t, errOut, tt.message)
		})
	}
}

func TestStackOverflow(t *testing.T) {
	_, errOut, result := run(t, "fun loop() { loop(); } loop();")
	require.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errOut, "Stack overflow.")
}

func TestRuntimeErrorTrace(t *testing.T) {
	source := "fun inner() { return missing; }\nfun outer() { return inner(); }\nouter();"
	_, errOut, result := run(t, source)
	require.Equal(t, InterpretRuntimeError, result)
	assert.Contains(t, errOut, "[line 1] in inner()")
	assert.Contains(t, errOut, "[line 2] in outer()")
	assert.Contains(t, errOut, "[line 3] in script")
}

func TestCompileErrorResult(t *testing.T) {
	_, errOut, result := run(t, "print ;")
	assert.Equal(t, InterpretCompileError, result)
	assert.Contains(t, errOut, "Expect expression.")
}

func TestNatives(t *testing.T) {
	t.Run("len and append and delete", func(t *testing.T) {
		out, errOut, result := run(t, `
var xs = [1, 2];
append(xs, 3);
print len(xs);
delete(xs, 0);
print xs;
print len("four");`)
		require.Equal(t, InterpretOK, result, errOut)
		assert.Equal(t, []string{"3", "[2, 3]", "4"}, lines(out))
	})

	t.Run("clock is numeric", func(t *testing.T) {
		out, errOut, result := run(t, "print clock() > 0;")
		require.Equal(t, InterpretOK, result, errOut)
		assert.Equal(t, []string{"true"}, lines(out))
	})

	t.Run("rand stays in bounds", func(t *testing.T) {
		out, errOut, result := run(t, "var r = rand(10); print r >= 0 and r < 10;")
		require.Equal(t, InterpretOK, result, errOut)
		assert.Equal(t, []string{"true"}, lines(out))
	})

	t.Run("input natives", func(t *testing.T) {
		machine := NewDispatcher(nil).Main()
		var out, errOut syncBuffer
		machine.SetOutput(&out, &errOut)
		machine.SetInput(strings.NewReader("hello\n41.5\nnot a number\n"))
		result := machine.Interpret(`print read_input(); print num_input() + 0.5; print num_input();`)
		require.Equal(t, InterpretOK, result, errOut.String())
		assert.Equal(t, []string{"hello", "42", "nil"}, lines(out.String()))
	})
}

// Interning: two literals with the same bytes are one object, so a string
// built at runtime compares equal to a literal.
func TestStringInterning(t *testing.T) {
	machine := NewDispatcher(nil).Main()
	var out, errOut syncBuffer
	machine.SetOutput(&out, &errOut)
	require.Equal(t, InterpretOK, machine.Interpret(`var a = "con" + "cat"; print a == "concat";`))
	assert.Equal(t, []string{"true"}, lines(out.String()))

	seen := map[string]int{}
	machine.Heap().Objects(func(o value.Obj) {
		if s, ok := o.(*object.String); ok {
			seen[s.Str]++
		}
	})
	for text, n := range seen {
		assert.Equal(t, 1, n, "string %q interned more than once", text)
	}
}

func TestGlobalsPersistAcrossInterprets(t *testing.T) {
	machine := NewDispatcher(nil).Main()
	var out, errOut syncBuffer
	machine.SetOutput(&out, &errOut)
	require.Equal(t, InterpretOK, machine.Interpret("var x = 41;"))
	require.Equal(t, InterpretOK, machine.Interpret("print x + 1;"))
	assert.Equal(t, []string{"42"}, lines(out.String()))
}

// Every scenario again, with a collection forced at each allocation.
func TestScenariosUnderGCStress(t *testing.T) {
	cfg := config.Default()
	cfg.GC.Stress = true

	sources := []string{
		"print 1 + 2 * 3;",
		`print "Hello, " + "world!";`,
		`fun makeCounter() { var n = 0; fun c() { n = n + 1; return n; } return c; }
var c = makeCounter(); print c(); print c(); print c();`,
		`class Box { init(v) { this.v = v; } get() { return this.v; } }
print Box(42).get();`,
		`class A { greet() { print "A"; } }
class B < A { greet() { super.greet(); print "B"; } }
B().greet();`,
		"var xs = [10, 20, 30]; xs[1] = 99; print xs[1];",
	}
	for _, source := range sources {
		_, errOut, result := runWithConfig(t, cfg, source)
		require.Equal(t, InterpretOK, result, "source %q: %s", source, errOut)
	}
}

func TestGCKeepsReachableObjects(t *testing.T) {
	cfg := config.Default()
	cfg.GC.Stress = true
	out, errOut, result := runWithConfig(t, cfg, `
var xs = [];
for (var i = 0; i < 50; i = i + 1) {
  append(xs, "item" + "!");
}
print len(xs);`)
	require.Equal(t, InterpretOK, result, errOut)
	assert.Equal(t, []string{"50"}, lines(out))
}
