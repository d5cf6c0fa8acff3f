package panel

import (
	"encoding/json"
	"fmt"
)

// The listing page is a Vue 2 app, the component holding the transaction
// list is found by its `financial_list` data key and memoized on window.
const locateComponentScript = `
function isListing(c) {
	return c && c.$data && ('financial_list' in c.$data);
}
if (isListing(window._finComp)) {
	return {status: String(window._finComp.$data.status), total: window._finComp.$data.total};
}
var app = document.getElementById('app');
if (!app || !app.__vue__) return null;
function search(c, depth) {
	if (!c || depth > 8) return null;
	if (isListing(c)) return c;
	var children = c.$children || [];
	for (var i = 0; i < children.length; i++) {
		var found = search(children[i], depth + 1);
		if (found) return found;
	}
	return null;
}
var comp = search(app.__vue__, 0);
if (!comp) return null;
window._finComp = comp;
return {status: String(comp.$data.status), total: comp.$data.total};
`

const fetchScript = `
var c = window._finComp;
if (!c || typeof c.getData !== 'function') return false;
c.getData();
return true;
`

const loadingScript = `
var c = window._finComp;
return c ? {loading: !!c.$data.loading, total: c.$data.total} : null;
`

const totalScript = `
var c = window._finComp;
return c ? {total: c.$data.total} : null;
`

// selects of the listing page, in document order
const (
	selectType   = 0
	selectBonus  = 1
	selectStatus = 3
)

func jsString(s string) string {
	encoded, _ := json.Marshal(s)
	return string(encoded)
}

func setComponentFilterScript(f Filter) string {
	return fmt.Sprintf(`
var c = window._finComp;
if (!c) return null;
c.$set(c.$data, 'type', %[1]s);
c.$set(c.$data, 'bonus', %[2]s);
c.$set(c.$data, 'status', %[3]s);
var selects = document.querySelectorAll('select');
if (selects[%[4]d]) selects[%[4]d].value = %[1]s;
if (selects[%[5]d]) selects[%[5]d].value = %[2]s;
if (selects[%[6]d]) selects[%[6]d].value = %[3]s;
return {type: String(c.$data.type), bonus: String(c.$data.bonus), status: String(c.$data.status)};
`,
		jsString(f.Type), jsString(f.Bonus), jsString(f.Status),
		selectType, selectBonus, selectStatus,
	)
}

func setSelectScript(index int, value string) string {
	return fmt.Sprintf(`
var s = document.querySelectorAll('select')[%d];
if (!s) return null;
s.value = %s;
s.dispatchEvent(new Event('change', {bubbles: true}));
s.dispatchEvent(new Event('input', {bubbles: true}));
return s.value;
`, index, jsString(value))
}

const countSelectsScript = `return document.querySelectorAll('select').length;`

const domLoadingScript = `
return !!document.querySelector('.v-data-table__progress, .v-progress-linear--active, .v-data-table--loading');
`

// clicks the search control by its label, used when element queries fail
const clickSearchScript = `
var els = document.querySelectorAll('a, button');
for (var i = 0; i < els.length; i++) {
	var t = els[i].textContent.trim();
	if (t === 'Arama' || t === 'ARAMA' || t === 'Ara') { els[i].click(); return true; }
}
return false;
`
