// Package prompt builds the instructions sent to the completion service.
// All user-facing text is requested in Korean.
package prompt

import (
	"fmt"
	"strings"
)

const noDescription = "N/A"

const languageRule = `All text values inside the JSON MUST be written in Korean.
Do not put text from other languages (English, Japanese, ...) into JSON values or keys.`

const photoSchema = `{
  "hazards": ["detailed hazard: the dangerous condition and its consequence, e.g. '안전 난간 미설치로 인한 추락 위험' rather than '추락 위험'"],
  "engineeringSolutions": ["engineering control suggestion"],
  "managementSolutions": ["administrative control suggestion"],
  "relatedRegulations": ["relevant law or regulation"]
}`

const hazardSchema = `{
  "description": "the hazard",
  "severity": number 1-5 (5 is highest),
  "likelihood": number 1-5 (5 is highest),
  "countermeasures": "recommended countermeasures"
}`

// PhotoAnalysis asks for one JSON object describing hazards visible on a site photo.
func PhotoAnalysis(description string) string {
	var b strings.Builder
	b.WriteString("Respond with ONE valid JSON object and nothing else. No markdown fences.\n")
	b.WriteString("Analyze the attached photo of a work site.\n")
	b.WriteString(languageRule + "\n")
	b.WriteString("Use exactly these keys:\n" + photoSchema + "\n")
	b.WriteString("Keep solutions and regulations short and actionable. ")
	b.WriteString("If a category has nothing, return an empty array for it.\n")
	b.WriteString("The reply must start with '{' and end with '}'.\n")
	b.WriteString(descriptionLine(description))
	return b.String()
}

// RiskAssessment asks for a JSON array of hazards for a process or piece of equipment.
func RiskAssessment(processName, description string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Based on the attached photo and the process/equipment %q, produce a risk assessment.\n", processName)
	b.WriteString(languageRule + "\n")
	b.WriteString("Respond with ONE JSON array of objects and nothing else. No markdown fences.\n")
	b.WriteString("Each element is one hazard:\n" + hazardSchema + "\n")
	b.WriteString("severity and likelihood must be numbers. If there are no hazards return [].\n")
	b.WriteString("The reply must start with '[' and end with ']'.\n")
	b.WriteString(descriptionLine(description))
	return b.String()
}

// AdditionalHazards asks for hazards not already present in existing.
func AdditionalHazards(processName string, existing []string) string {
	var b strings.Builder
	b.WriteString("Respond with ONE JSON array of objects and nothing else. No markdown fences.\n")
	fmt.Fprintf(&b, "Identify potential hazards of the process/equipment %q.\n", processName)
	if len(existing) == 0 {
		b.WriteString("No hazards have been identified yet; list the initial ones.\n")
	} else {
		b.WriteString("These hazards are already known; return only new, distinct ones:\n")
		for _, d := range existing {
			fmt.Fprintf(&b, "- %q\n", d)
		}
	}
	b.WriteString(languageRule + "\n")
	b.WriteString("Each element is one hazard:\n" + hazardSchema + "\n")
	b.WriteString("If there is nothing new, return []. The reply must start with '[' and end with ']'.")
	return b.String()
}

// QASystem is the system prompt of the safety Q&A assistant.
func QASystem(withImage bool) string {
	var b strings.Builder
	b.WriteString("You are an assistant specialised in occupational safety and health. Answer in Korean.\n")
	if withImage {
		b.WriteString("Use general knowledge, safety practice, regulations and the attached image. ")
		b.WriteString("Point out hazards and risks visible in the image and give safety recommendations.\n")
	} else {
		b.WriteString("Use general knowledge, common safety practice and regulations.\n")
	}
	b.WriteString("Be concise. If a question is outside your field, say so (in Korean).\n")
	b.WriteString("Take the previous conversation into account when there is one.")
	return b.String()
}

func descriptionLine(d string) string {
	d = strings.TrimSpace(d)
	if d == "" {
		d = noDescription
	}
	return "Image description (optional): " + d
}
