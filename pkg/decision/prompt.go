package decision

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/droid-agent/pkg/element"
)

const promptHeader = `You are an agent operating an Android phone to complete a task for the user.
The screenshot shows the current screen. Every interactive element is marked with a numeric label at its center.

You can call exactly one of these functions per reply:
1. tap(element: int)
   Tap the element with the given numeric label, e.g. tap(5).
2. text(input: str)
   Type text into the focused input field, e.g. text("Hello, world!"). Always quote the input.
3. long_press(element: int)
   Long-press the element with the given numeric label, e.g. long_press(5).
4. swipe(element: int, direction: str, distance: str)
   Swipe starting from the element. direction must be one of "up", "down", "left", "right".
   distance must be one of "short", "medium", "long". Example: swipe(21, "up", "medium").

If the task is complete, reply with FINISH as the action.

Reply with exactly these four sections, in this order:
Observation: <what you see on the screen>
Thought: <what should be done next and why>
Action: <one function call, or FINISH>
Summary: <one sentence describing what you did, to remember for the next step>
`

// BuildPrompt renders the fixed instructions, the task, the previous step and
// a text index of the labelled elements.
func BuildPrompt(task, lastSummary string, elements element.List) string {
	var b strings.Builder
	b.WriteString(promptHeader)

	b.WriteString("\nTask: ")
	b.WriteString(task)
	b.WriteString("\n")

	if lastSummary != "" {
		b.WriteString("Previous action: ")
		b.WriteString(lastSummary)
		b.WriteString("\n")
	} else {
		b.WriteString("Previous action: none, this is the first step.\n")
	}

	b.WriteString("\nLabelled elements:\n")
	for i, e := range elements {
		fmt.Fprintf(&b, "%d. %s", i+1, shortClass(e.ClassName))
		if label := e.Label(); label != "" && label != e.ClassName {
			fmt.Fprintf(&b, " %q", truncate(label, 40))
		}
		c := e.Center()
		fmt.Fprintf(&b, " at (%d,%d)\n", c.X, c.Y)
	}
	return b.String()
}

func shortClass(class string) string {
	if i := strings.LastIndexByte(class, '.'); i >= 0 {
		return class[i+1:]
	}
	if class == "" {
		return "View"
	}
	return class
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
