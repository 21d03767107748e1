package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n---\n"

	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"

	PlanStarter  = "starter"
	PlanPro      = "pro"
	PlanBusiness = "business"

	// CreditsPerAnswer is charged for every widget answer.
	CreditsPerAnswer = 1
)

// PlanCredits is the per-cycle allowance of each plan
var PlanCredits = map[string]int64{
	PlanStarter:  500,
	PlanPro:      2000,
	PlanBusiness: 10000,
}

var (
	DefaultSystemPrompt = `You are the customer service assistant for %s. Answer the visitor's question using only the information in the provided context. If the context does not contain the answer, say that you do not know and suggest contacting the store directly. Answer in the language of the question and keep the answer short.`

	ContextPromptTemplate = `<context>
%s
</context>

Question: %s`
)
