package http

import "neuroscan/ml"

// CategoryInfo is the clinical summary shown next to a prediction.
type CategoryInfo struct {
	Description    string `json:"description"`
	Symptoms       string `json:"symptoms"`
	Treatment      string `json:"treatment"`
	Recommendation string `json:"recommendation"`
}

var categoryInfo = map[string]CategoryInfo{
	"glioma": {
		Description:    "Glioma is a type of tumor that occurs in the brain and spinal cord. Gliomas begin in the glial cells that surround and support nerve cells.",
		Symptoms:       "Headaches, Nausea, Vomiting, Seizures, Memory loss, Personality changes, Weakness on one side of body",
		Treatment:      "Surgical removal, Radiation therapy, Chemotherapy, Targeted drug therapy",
		Recommendation: "Immediate consultation with neuro-oncologist. Regular MRI monitoring every 3-6 months.",
	},
	"meningioma": {
		Description:    "Meningioma is a tumor that arises from the meninges, the membranes that surround the brain and spinal cord.",
		Symptoms:       "Headaches, Vision problems, Hearing loss, Memory loss, Seizures, Weakness in limbs",
		Treatment:      "Observation for slow-growing tumors, Surgical removal, Radiation therapy",
		Recommendation: "Consultation with neurosurgeon. Annual MRI scans for monitoring.",
	},
	"pituitary": {
		Description:    "Pituitary tumors are abnormal growths that develop in the pituitary gland, affecting hormone production.",
		Symptoms:       "Headaches, Vision loss, Fatigue, Weight gain/loss, Menstrual irregularities, Erectile dysfunction",
		Treatment:      "Medication to regulate hormones, Surgical removal, Radiation therapy",
		Recommendation: "Endocrinologist consultation. Hormone level testing required.",
	},
	ml.NoTumorCategory: {
		Description:    "No evidence of tumor detected in the MRI scan. Brain structure appears normal.",
		Symptoms:       "None detected",
		Treatment:      "No treatment required. Maintain regular health checkups.",
		Recommendation: "Annual brain MRI recommended for high-risk patients. Maintain healthy lifestyle.",
	},
}

// infoFor falls back to the no-tumor summary for categories it does not know.
func infoFor(category string) CategoryInfo {
	if info, ok := categoryInfo[category]; ok {
		return info
	}
	return categoryInfo[ml.NoTumorCategory]
}
