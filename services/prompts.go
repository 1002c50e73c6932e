package services

import (
	"fmt"
	"strings"
)

// SummaryProbe is the retrieval query used when summarizing a report: a
// broad probe that pulls the most representative chunks regardless of
// the user asking anything.
const SummaryProbe = "patient information diagnosis findings treatment medications"

// maxContextChars bounds the retrieved context stitched into a prompt.
const maxContextChars = 6000

const truncationMarker = "\n\n[Context truncated]"

// KnownMedicines is the vocabulary of medicine names the chat assistant
// is allowed to discuss, matched case-insensitively against report
// content. Order is preserved in the allowlist shown to the model.
var KnownMedicines = []string{
	"paracetamol",
	"ibuprofen",
	"amoxicillin",
	"cetirizine",
	"dolo",
	"crocin",
	"calpol",
	"azithromycin",
	"pantoprazole",
}

var languageInstructions = map[string]string{
	"en": "Respond in English.",
	"hi": "उत्तर हिंदी में दें।",
	"mr": "उत्तर मराठीत द्या।",
}

// LanguageInstruction returns the response-language directive for a
// locale, defaulting to English for unknown locales.
func LanguageInstruction(lang string) string {
	if instr, ok := languageInstructions[lang]; ok {
		return instr
	}
	return languageInstructions["en"]
}

// SupportedLanguage reports whether summaries are produced for lang.
func SupportedLanguage(lang string) bool {
	_, ok := languageInstructions[lang]
	return ok
}

// LimitText truncates text to maxContextChars and appends a visible
// truncation marker so the model knows the context is incomplete.
func LimitText(text string) string {
	if len(text) <= maxContextChars {
		return text
	}
	return text[:maxContextChars] + truncationMarker
}

// DetectAllowedMedicines scans the given texts for known medicine names
// and returns the matches in vocabulary order, deduplicated.
func DetectAllowedMedicines(texts ...string) []string {
	joined := strings.ToLower(strings.Join(texts, " "))
	allowed := make([]string, 0, len(KnownMedicines))
	for _, med := range KnownMedicines {
		if strings.Contains(joined, med) {
			allowed = append(allowed, med)
		}
	}
	return allowed
}

// BuildSummarizePrompt builds the summarization prompt over retrieved
// report context in the requested language.
func BuildSummarizePrompt(context, lang string) string {
	return fmt.Sprintf(`You are a medical assistant helping a patient understand their medical report.

Medical report content:
%s

Summarize this medical report in simple, patient-friendly language with these sections:
1. Patient information
2. Chief complaint
3. Diagnosis
4. Medications
5. Tests and results
6. Recommendations

Write "Not mentioned" for any section the report does not cover. Do not introduce information that is not in the report content above.
%s`, LimitText(context), LanguageInstruction(lang))
}

// BuildQueryPrompt builds the question-answering prompt for a single
// report query, grounded only on the retrieved context.
func BuildQueryPrompt(context, question string) string {
	return fmt.Sprintf(`You are a medical assistant answering questions about a patient's medical report.

Relevant report content:
%s

Question: %s

Answer using only the report content above. If the report does not contain the answer, say so clearly. Use simple, patient-friendly language.`, LimitText(context), question)
}

// BuildChatPrompt builds the safety-gated chat prompt over a patient's
// report summaries. The model may only discuss medicines found in the
// reports and must refuse dosage changes and diagnosis requests.
func BuildChatPrompt(context, message string, allowedMedicines []string) string {
	medicineList := "none"
	if len(allowedMedicines) > 0 {
		medicineList = strings.Join(allowedMedicines, ", ")
	}
	return fmt.Sprintf(`You are a careful medical assistant chatting with a patient about their health records.

Patient's report history:
%s

Medicines mentioned in the patient's reports: %s

Rules:
- You are not a doctor and must never prescribe anything.
- Only discuss medicines from the list above. If asked about any other medicine, say you can only discuss medicines found in their reports.
- Never suggest changing a dosage and never state a dosage that is not written in the reports. Tell the patient to consult their doctor.
- Never provide a diagnosis. You may explain what the reports say.
- If the question is unrelated to the reports, answer generally but remind the patient you are not a doctor.
- Use simple, reassuring language.
- End every reply with: "This is not medical advice. Please consult your doctor."

Patient's message: %s`, LimitText(context), medicineList, message)
}

// BuildGeneralChatPrompt is the chat prompt used when the patient has no
// reports on file.
func BuildGeneralChatPrompt(message string) string {
	return fmt.Sprintf(`You are a careful medical assistant chatting with a patient who has no medical reports uploaded yet.

Rules:
- You are not a doctor and must never prescribe anything.
- Answer general health questions in simple language.
- Never provide a diagnosis or suggest dosages.
- Encourage the patient to upload their medical reports for personalized help.
- End every reply with: "This is not medical advice. Please consult your doctor."

Patient's message: %s`, message)
}

// BuildReportContext stitches ranked retrieval hits into one context
// block, section-labelled per chunk.
func BuildReportContext(results []RetrievedChunk) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if r.Section != "" {
			b.WriteString("[" + r.Section + "]\n")
		}
		b.WriteString(r.Text)
	}
	return b.String()
}
