package assistant

import "strings"

// DefaultFallbackReply is returned when no canned answer matches.
const DefaultFallbackReply = "I'm here to help with your studies! Try asking me about study tips, creating schedules, improving focus, or memorization techniques."

// QuickReplies are the suggested prompts that always have a canned answer.
var QuickReplies = []string{
	"How can I improve my focus?",
	"Give me study tips for math",
	"Help me create a study schedule",
	"What's the best way to memorize?",
	"How do I stay motivated?",
}

type cannedReply struct {
	key  string
	text string
}

// Ordered: the first key contained in the message wins.
var cannedReplies = []cannedReply{
	{
		key: "how can i improve my focus",
		text: "Here are some tips to improve your focus:\n\n" +
			"1. 🎯 Use the Pomodoro Technique (25 min work, 5 min break)\n" +
			"2. 📱 Eliminate distractions - put your phone away\n" +
			"3. 🌿 Create a dedicated study environment\n" +
			"4. 🧘 Practice mindfulness and deep breathing\n" +
			"5. 💧 Stay hydrated and take regular breaks\n" +
			"6. 🎵 Use background music (classical or lo-fi)\n" +
			"7. 📝 Break tasks into smaller, manageable chunks",
	},
	{
		key: "give me study tips for math",
		text: "Here are effective math study tips:\n\n" +
			"1. 📚 Practice regularly - math is a skill that improves with practice\n" +
			"2. ✏️ Work through problems step by step\n" +
			"3. 📖 Read the textbook before class\n" +
			"4. 🎯 Focus on understanding concepts, not just memorizing\n" +
			"5. 📝 Take detailed notes and create formula sheets\n" +
			"6. 🤝 Form study groups to explain concepts to others\n" +
			"7. 🔍 Review mistakes and understand why you made them\n" +
			"8. ⏰ Use spaced repetition for formulas and concepts",
	},
	{
		key: "help me create a study schedule",
		text: "Here's how to create an effective study schedule:\n\n" +
			"1. 📅 Start with your fixed commitments (classes, work)\n" +
			"2. ⏰ Block out 2-3 hour study sessions\n" +
			"3. 🎯 Schedule your most challenging subjects during peak energy times\n" +
			"4. ☕ Include short breaks (5-10 minutes) every hour\n" +
			"5. 🏃 Plan longer breaks for meals and exercise\n" +
			"6. 📚 Review and adjust your schedule weekly\n" +
			"7. 🎯 Set specific goals for each study session\n" +
			"8. 📱 Use apps or planners to track your progress",
	},
	{
		key: "what's the best way to memorize",
		text: "Here are proven memorization techniques:\n\n" +
			"1. 🧠 Active Recall - test yourself instead of just re-reading\n" +
			"2. 📝 Spaced Repetition - review material at increasing intervals\n" +
			"3. 🎨 Visual Learning - create mind maps and diagrams\n" +
			"4. 🎵 Mnemonics - use acronyms and rhymes\n" +
			"5. 📖 Teach Others - explaining helps you understand better\n" +
			"6. 🏃 Physical Movement - walk while studying\n" +
			"7. 🎯 Chunking - break information into smaller groups\n" +
			"8. 💤 Get enough sleep - memory consolidation happens during sleep",
	},
	{
		key: "how do i stay motivated",
		text: "Here are ways to stay motivated while studying:\n\n" +
			"1. 🎯 Set clear, achievable goals\n" +
			"2. 📊 Track your progress and celebrate small wins\n" +
			"3. 🏆 Use rewards - treat yourself after completing tasks\n" +
			"4. 👥 Study with friends or join study groups\n" +
			"5. 📱 Remove distractions and create a focused environment\n" +
			"6. 🎵 Listen to motivating music or podcasts\n" +
			"7. 📝 Visualize your success and future goals\n" +
			"8. 💪 Remember your 'why' - why are you studying this?\n" +
			"9. 🏃 Take care of your physical health (sleep, exercise, nutrition)\n" +
			"10. 🔄 Mix up your study methods to avoid boredom",
	},
}

// FallbackReply returns the canned answer for the first key contained in the
// lower-cased message, or DefaultFallbackReply.
func FallbackReply(message string) string {
	lower := strings.ToLower(message)
	for _, r := range cannedReplies {
		if strings.Contains(lower, r.key) {
			return r.text
		}
	}
	return DefaultFallbackReply
}
